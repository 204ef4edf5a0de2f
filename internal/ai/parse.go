package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/v0xg/stepshot/internal/plan"
)

// ErrNoPlan means the response held no JSON object.
var ErrNoPlan = errors.New("no JSON object in response")

// parsePlan extracts the plan object from a model response, normalises step numbering, fills a
// missing target URL and validates the result.
func parsePlan(response, targetURL string) (*plan.Plan, error) {
	raw, err := extractObject(response)
	if err != nil {
		return nil, err
	}
	var p plan.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if p.TargetURL == "" {
		p.TargetURL = targetURL
	}
	if !contiguous(p.Steps) {
		if err := uniqueIndices(p.Steps); err != nil {
			return nil, err
		}
		p.Renumber()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func contiguous(steps []plan.Step) bool {
	for i, s := range steps {
		if s.Index != i+1 {
			return false
		}
	}
	return true
}

// uniqueIndices rejects repeated step numbers, which would make jump targets ambiguous.
func uniqueIndices(steps []plan.Step) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if seen[s.Index] {
			return &plan.ValidationError{StepIndex: s.Index, Reason: fmt.Sprintf("duplicate index %d", s.Index)}
		}
		seen[s.Index] = true
	}
	return nil
}

// extractObject returns the first balanced {...} in s that is valid JSON.
func extractObject(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for start := strings.IndexByte(s, '{'); start != -1; {
		if end := closingBrace(s, start); end != -1 {
			if cand := []byte(s[start : end+1]); json.Valid(cand) {
				return cand, nil
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoPlan
}

// closingBrace finds the brace matching s[start], ignoring braces inside JSON strings.
func closingBrace(s string, start int) int {
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
