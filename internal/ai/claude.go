package ai

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/stepshot/internal/crawler"
	"github.com/v0xg/stepshot/internal/plan"
)

// ClaudeGenerator implements Generator using Anthropic's Claude
type ClaudeGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeGenerator creates a new Claude generator
func NewClaudeGenerator(cfg Config) (*ClaudeGenerator, error) {
	key := apiKey(cfg.APIKey, "STEPSHOT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("STEPSHOT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeGenerator{
		client:    &client,
		model:     model,
		maxTokens: cfg.maxTokens(),
	}, nil
}

// GeneratePlan asks Claude for a plan and validates it
func (g *ClaudeGenerator) GeneratePlan(ctx context.Context, task, targetURL string, page *crawler.PageMap) (*plan.Plan, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(task, targetURL, page))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("empty response from Claude")
	}

	p, err := parsePlan(responseText, targetURL)
	if err != nil {
		return nil, fmt.Errorf("Claude plan: %w", err)
	}
	return p, nil
}
