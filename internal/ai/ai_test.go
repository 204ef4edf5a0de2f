package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepshot/internal/crawler"
	"github.com/v0xg/stepshot/internal/plan"
)

const planJSON = `{
  "target_url": "https://app.example.com",
  "task_summary": "Open billing settings",
  "assumptions": ["The user is signed in"],
  "steps": [
    {"index": 1, "action": "open_page", "args": {"url": "https://app.example.com"}, "description": "Open the app"},
    {"index": 2, "action": "wait_for_page_ready", "description": "App loaded"},
    {"index": 3, "action": "if_url_contains", "args": {"pattern": "/settings"}, "jump_target": 5, "description": "Already on settings"},
    {"index": 4, "action": "click", "args": {"selector": "text=Settings"}, "description": "Open settings"},
    {"index": 5, "action": "click", "args": {"selector": "a[href=\"/billing\"]"}, "description": "Open billing {tab}"}
  ]
}`

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"bare", planJSON},
		{"fenced", "```json\n" + planJSON + "\n```"},
		{"chatter", "Here is the plan you asked for {as requested}:\n" + planJSON + "\nLet me know if it needs changes."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parsePlan(tt.response, "")
			require.NoError(t, err)
			assert.Equal(t, "https://app.example.com", p.TargetURL)
			require.Len(t, p.Steps, 5)
			assert.Equal(t, plan.IfURLContains, p.Steps[2].Action)
			assert.Equal(t, 5, p.Steps[2].JumpTarget)
			assert.Equal(t, "Open billing {tab}", p.Steps[4].Description)
		})
	}
}

func TestParsePlanNormalises(t *testing.T) {
	resp := `{"task_summary": "x", "steps": [
		{"index": 0, "action": "navigate", "args": {"url": "https://example.com"}},
		{"index": 1, "action": "if_element_exists", "args": {"selector": "#a"}, "jump_target": 2},
		{"index": 2, "action": "press", "args": {"key": "enter"}}
	]}`

	p, err := parsePlan(resp, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", p.TargetURL)
	assert.Equal(t, []int{1, 2, 3}, []int{p.Steps[0].Index, p.Steps[1].Index, p.Steps[2].Index})
	assert.Equal(t, plan.OpenPage, p.Steps[0].Action)
	assert.Equal(t, plan.PressKey, p.Steps[2].Action)
	assert.Equal(t, 3, p.Steps[1].JumpTarget)
}

func TestParsePlanRejects(t *testing.T) {
	_, err := parsePlan("I cannot help with that.", "")
	assert.ErrorIs(t, err, ErrNoPlan)

	_, err = parsePlan(`{"target_url": "https://example.com", "steps": [
		{"index": 1, "action": "if_url_contains", "args": {"pattern": "x"}, "jump_target": 1}
	]}`, "")
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)

	_, err = parsePlan(`{"target_url": "https://example.com", "steps": []}`, "")
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
}

func TestParsePlanRejectsDuplicateIndices(t *testing.T) {
	resp := `{"target_url": "https://example.com", "steps": [
		{"index": 1, "action": "open_page", "args": {"url": "https://example.com"}},
		{"index": 2, "action": "if_element_exists", "args": {"selector": "#a"}, "jump_target": 3},
		{"index": 3, "action": "click", "args": {"selector": "#a"}},
		{"index": 3, "action": "click", "args": {"selector": "#b"}}
	]}`

	_, err := parsePlan(resp, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	assert.ErrorContains(t, err, "duplicate index 3")
}

func TestBuildUserPrompt(t *testing.T) {
	page := &crawler.PageMap{
		URL:      "https://app.example.com",
		Title:    "Home",
		Elements: []crawler.Element{{Selector: "#search", Type: "search"}},
	}
	got := buildUserPrompt("  find invoices ", "https://app.example.com", page)
	assert.Contains(t, got, "Task: find invoices\n")
	assert.Contains(t, got, "Start URL: https://app.example.com\n")
	assert.Contains(t, got, "- search #search")

	got = buildUserPrompt("open github", "", nil)
	assert.Contains(t, got, "choose the application's public URL")
	assert.NotContains(t, got, "currently shows")
}

func TestNewGenerator(t *testing.T) {
	t.Setenv("STEPSHOT_ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewGenerator(Config{Provider: "claude"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	g, err := NewGenerator(Config{Provider: "GPT", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	_, err = NewGenerator(Config{Provider: "gemini"})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestClaudeGenerator(t *testing.T) {
	var req struct {
		Model  string `json:"model"`
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-20250514",
			"content":     []map[string]any{{"type": "text", "text": "Plan:\n" + planJSON}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	g, err := NewClaudeGenerator(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	p, err := g.GeneratePlan(context.Background(), "open billing", "https://app.example.com", nil)
	require.NoError(t, err)

	assert.Len(t, p.Steps, 5)
	assert.Equal(t, "claude-sonnet-4-20250514", req.Model)
	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0].Text, "if_url_contains")
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content[0].Text, "Task: open billing")
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": planJSON},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	p, err := g.GeneratePlan(context.Background(), "open billing", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Open billing settings", p.TaskSummary)
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = g.GeneratePlan(context.Background(), "t", "https://example.com", nil)
	assert.ErrorContains(t, err, "empty response")
}
