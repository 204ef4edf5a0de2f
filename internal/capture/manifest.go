package capture

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// ManifestName is the file written next to the captures at the end of a run.
const ManifestName = "manifest.json"

// Manifest summarises a finished run.
type Manifest struct {
	RunID       string     `json:"run_id"`
	TargetURL   string     `json:"target_url"`
	TaskSummary string     `json:"task_summary,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	StepIndex   int        `json:"step_index,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Artifacts   []Artifact `json:"artifacts"`
	GIF         string     `json:"gif,omitempty"`
}

// WriteManifest writes manifest.json into the run directory. Artifact paths are stored
// relative to the directory.
func (s *Sink) WriteManifest(m Manifest) error {
	rel := make([]Artifact, len(m.Artifacts))
	for i, a := range m.Artifacts {
		if r, err := filepath.Rel(s.dir, a.Path); err == nil {
			a.Path = r
		}
		rel[i] = a
	}
	m.Artifacts = rel
	if m.GIF != "" {
		if r, err := filepath.Rel(s.dir, m.GIF); err == nil {
			m.GIF = r
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeExclusive(filepath.Join(s.dir, ManifestName), append(data, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
