// Package ai turns a task description into a navigation plan with a language model.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/v0xg/stepshot/internal/crawler"
	"github.com/v0xg/stepshot/internal/plan"
)

// Generator produces a validated plan for a task. targetURL may be empty, in which case the
// model chooses it; page may be nil when the target was not inspected.
type Generator interface {
	GeneratePlan(ctx context.Context, task, targetURL string, page *crawler.PageMap) (*plan.Plan, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string // claude (default) or openai
	Model     string
	APIKey    string // falls back to the provider's environment variables
	BaseURL   string
	MaxTokens int
}

// NewGenerator creates a generator for the configured provider
func NewGenerator(cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "claude", "anthropic":
		return NewClaudeGenerator(cfg)
	case "openai", "gpt":
		return NewOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", cfg.Provider)
	}
}

func apiKey(explicit string, envs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, e := range envs {
		if v := os.Getenv(e); v != "" {
			return v
		}
	}
	return ""
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 4096
}
