package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cherry/pkg/provider/llm"
	"github.com/MrWong99/cherry/pkg/types"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	for _, role := range []string{types.RoleSystem, types.RoleUser, types.RoleAssistant} {
		t.Run(role, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(types.Message{Role: role, Content: "Hello!"})
			if got.Role != role {
				t.Errorf("expected role %q, got %q", role, got.Role)
			}
			if got.ContentString() != "Hello!" {
				t.Errorf("expected content %q, got %q", "Hello!", got.ContentString())
			}
		})
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	t.Parallel()

	m := types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "open_app", Arguments: `{"app_name":"calculator"}`},
		},
	}
	got := convertMessage(m)
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("unexpected tool call header %+v", tc)
	}
	if tc.Function.Name != "open_app" || tc.Function.Arguments != `{"app_name":"calculator"}` {
		t.Errorf("unexpected function %+v", tc.Function)
	}
}

func TestConvertMessage_Tool(t *testing.T) {
	t.Parallel()

	got := convertMessage(types.Message{Role: types.RoleTool, Content: "Opened.", ToolCallID: "call_1"})
	if got.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %q", got.ToolCallID)
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Cherry.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Temperature:  0.4,
		MaxTokens:    256,
		Tools: []types.ToolDefinition{{
			Name:        "open_app",
			Description: "Open an application.",
			Parameters:  map[string]any{"type": "object"},
		}},
	})

	if params.Model != "llama3.2" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v, want system prompt first", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "open_app" {
		t.Errorf("tools = %+v", params.Tools)
	}
}

func TestBuildParams_ZeroOptionalsOmitted(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected nil temperature/max tokens, got %v/%v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestStripReasoning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  It is sunny. ", "It is sunny."},
		{"leading block", "<think>the user wants weather</think>\nIt is sunny.", "It is sunny."},
		{"two blocks", "<think>a</think>One. <think>b</think>Two.", "One. Two."},
		{"unterminated", "Sure. <think>still thinking", "Sure."},
		{"only reasoning", "<think>hmm</think>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripReasoning(tt.in); got != tt.want {
				t.Errorf("stripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		wantTools bool
		wantCtx   int
	}{
		{model: "llama3.2", wantTools: true, wantCtx: 128_000},
		{model: "Llama3.2:3b", wantTools: true, wantCtx: 128_000},
		{model: "llama3", wantTools: false, wantCtx: 8_192},
		{model: "qwen2.5:7b", wantTools: true, wantCtx: 32_768},
		{model: "gpt-4o-mini", wantTools: true, wantCtx: 128_000},
		{model: "claude-3-5-sonnet-latest", wantTools: true, wantCtx: 200_000},
		{model: "gemini-2.0-flash", wantTools: true, wantCtx: 1_048_576},
		{model: "tinyllama", wantTools: false, wantCtx: 8_192},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tc.model)
			if caps.SupportsToolCalling != tc.wantTools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tc.wantTools)
			}
			if caps.ContextWindow != tc.wantCtx {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.wantCtx)
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "llama3.2"); err == nil {
		t.Error("expected error for empty backend name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3.2") }},
		{"NewOpenAI", func() (*Provider, error) { return NewOpenAI("gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if p == nil {
				t.Fatalf("%s: expected non-nil provider", tt.name)
			}
		})
	}
}
