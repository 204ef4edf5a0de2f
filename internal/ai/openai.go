package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/stepshot/internal/crawler"
	"github.com/v0xg/stepshot/internal/plan"
)

// OpenAIGenerator implements Generator using OpenAI
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIGenerator creates a new OpenAI generator
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	key := apiKey(cfg.APIKey, "STEPSHOT_OPENAI_KEY", "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("STEPSHOT_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.maxTokens(),
	}, nil
}

// GeneratePlan asks OpenAI for a plan and validates it
func (g *OpenAIGenerator) GeneratePlan(ctx context.Context, task, targetURL string, page *crawler.PageMap) (*plan.Plan, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(task, targetURL, page)},
		},
		MaxCompletionTokens: g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	p, err := parsePlan(resp.Choices[0].Message.Content, targetURL)
	if err != nil {
		return nil, fmt.Errorf("OpenAI plan: %w", err)
	}
	return p, nil
}
