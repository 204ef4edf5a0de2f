package capture

import (
	"fmt"
	"path/filepath"

	"github.com/v0xg/stepshot/internal/gifgen"
)

// GIFName is the walkthrough animation written into the run directory.
const GIFName = "walkthrough.gif"

// AssembleGIF animates the artifacts in ordinal order and returns the GIF path.
func (s *Sink) AssembleGIF(artifacts []Artifact, opts gifgen.Options) (string, error) {
	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.Path
	}
	out := filepath.Join(s.dir, GIFName)
	size, err := gifgen.Generate(paths, out, opts)
	if err != nil {
		return "", fmt.Errorf("assemble gif: %w", err)
	}
	s.log.Debug("gif written", "path", out, "bytes", size, "frames", len(paths))
	return out, nil
}
