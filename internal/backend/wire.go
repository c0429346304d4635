package backend

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/cherry/pkg/types"
)

// Wire reply types.
const (
	ReplyTypeText      = "text"
	ReplyTypeToolCalls = "tool_calls"
)

// WireToolCall is the JSON form of a tool call.
type WireToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// WireReply is the JSON form of a [Reply].
type WireReply struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolCalls []WireToolCall `json:"tool_calls,omitempty"`
}

// VoiceResponse is the body of a successful POST /api/voice.
type VoiceResponse struct {
	Transcription string `json:"transcription"`

	// Response is the reply text with directives stripped, for display.
	Response string    `json:"response"`
	Reply    WireReply `json:"reply"`
}

// ContextTurn is one element of the "context" form field.
type ContextTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeReply converts r to its wire form.
func EncodeReply(r Reply) (WireReply, error) {
	switch r := r.(type) {
	case Text:
		return WireReply{Type: ReplyTypeText, Text: r.Content}, nil
	case ToolCalls:
		calls := make([]WireToolCall, len(r.Calls))
		for i, c := range r.Calls {
			calls[i] = WireToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		}
		return WireReply{Type: ReplyTypeToolCalls, ToolCalls: calls}, nil
	default:
		return WireReply{}, fmt.Errorf("backend: unsupported reply %T", r)
	}
}

// DecodeReply converts a wire reply back into a [Reply].
func DecodeReply(w WireReply) (Reply, error) {
	switch w.Type {
	case ReplyTypeText:
		return Text{Content: w.Text}, nil
	case ReplyTypeToolCalls:
		calls := make([]types.ToolCall, len(w.ToolCalls))
		for i, c := range w.ToolCalls {
			calls[i] = types.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		}
		return ToolCalls{Calls: calls}, nil
	default:
		return nil, fmt.Errorf("backend: unknown reply type %q", w.Type)
	}
}

// EncodeHistory renders history as the "context" form field, dropping
// system turns which the brain supplies itself.
func EncodeHistory(history []types.Message) (string, error) {
	turns := make([]ContextTurn, 0, len(history))
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		turns = append(turns, ContextTurn{Role: m.Role, Content: m.Content})
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("backend: encode history: %w", err)
	}
	return string(data), nil
}

// DecodeHistory parses the "context" form field. Only user and assistant
// turns are accepted; an empty field yields no history.
func DecodeHistory(field string) ([]types.Message, error) {
	if field == "" {
		return nil, nil
	}
	var turns []ContextTurn
	if err := json.Unmarshal([]byte(field), &turns); err != nil {
		return nil, fmt.Errorf("backend: decode history: %w", err)
	}
	out := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role != types.RoleUser && t.Role != types.RoleAssistant {
			continue
		}
		out = append(out, types.Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}
