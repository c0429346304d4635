// Package local runs Cherry's brain in-process: speech-to-text, fact recall
// and the language model, all called directly from the listener or from the
// brain server.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cherry/internal/action"
	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/memory"
	"github.com/MrWong99/cherry/pkg/provider/llm"
	"github.com/MrWong99/cherry/pkg/provider/stt"
	"github.com/MrWong99/cherry/pkg/types"
)

var _ backend.Client = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithTools offers tool definitions to the model. They are only sent when
// the model supports tool calling.
func WithTools(defs []types.ToolDefinition) Option {
	return func(c *Client) { c.tools = defs }
}

// WithFacts recalls up to limit stored facts per request and appends them to
// the system prompt.
func WithFacts(s memory.Store, limit int) Option {
	return func(c *Client) {
		c.facts = s
		c.recallLimit = limit
	}
}

// WithProbe reports host statistics in [Client.Status].
func WithProbe(p action.Probe) Option {
	return func(c *Client) { c.probe = p }
}

// WithMetrics records provider latency and outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is an in-process [backend.Client]. It is safe for concurrent use.
type Client struct {
	stt         stt.Provider
	llm         llm.Provider
	tools       []types.ToolDefinition
	facts       memory.Store
	recallLimit int
	probe       action.Probe
	metrics     *observe.Metrics

	mu     sync.RWMutex
	prompt string
}

// New returns a Client transcribing with s and replying with l.
func New(s stt.Provider, l llm.Provider, systemPrompt string, opts ...Option) *Client {
	c := &Client{stt: s, llm: l, prompt: systemPrompt}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetSystemPrompt replaces the system prompt for subsequent requests.
func (c *Client) SetSystemPrompt(p string) {
	c.mu.Lock()
	c.prompt = p
	c.mu.Unlock()
}

// SystemPrompt returns the current system prompt.
func (c *Client) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompt
}

// Converse implements [backend.Client].
func (c *Client) Converse(ctx context.Context, utterance audio.Frame, history []types.Message) (*backend.Result, error) {
	ctx, span := observe.StartSpan(ctx, "backend.local.Converse")
	text, err := c.Transcribe(ctx, utterance)
	if err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}
	reply, err := c.Reply(ctx, text, history)
	observe.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &backend.Result{Transcription: text, Reply: reply}, nil
}

// Transcribe turns utterance into text. Transcriptions shorter than
// [backend.MinTranscription] characters yield [backend.ErrNoSpeech].
func (c *Client) Transcribe(ctx context.Context, utterance audio.Frame) (string, error) {
	start := time.Now()
	tr, err := c.stt.Transcribe(ctx, utterance)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.RecordProviderRequest(ctx, "stt", "transcribe", err)
	}
	if err != nil {
		return "", fmt.Errorf("local: transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if len([]rune(text)) < backend.MinTranscription {
		return "", backend.ErrNoSpeech
	}
	return text, nil
}

// Reply asks the model to answer text given the conversation history.
// System turns in history are replaced by the current system prompt and the
// recalled facts. Model failures wrap [backend.ErrUnavailable].
func (c *Client) Reply(ctx context.Context, text string, history []types.Message) (backend.Reply, error) {
	msgs := make([]types.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: text})

	req := llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.systemPromptFor(ctx, text),
	}
	if len(c.tools) > 0 && c.llm.Capabilities().SupportsToolCalling {
		req.Tools = c.tools
	}

	start := time.Now()
	resp, err := c.llm.Complete(ctx, req)
	if c.metrics != nil {
		c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.RecordProviderRequest(ctx, "llm", "complete", err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	if len(resp.ToolCalls) > 0 {
		return backend.ToolCalls{Calls: resp.ToolCalls}, nil
	}
	return backend.Text{Content: strings.TrimSpace(resp.Content)}, nil
}

func (c *Client) systemPromptFor(ctx context.Context, query string) string {
	prompt := c.SystemPrompt()
	if c.facts == nil {
		return prompt
	}
	facts, err := c.facts.Recall(ctx, query, c.recallLimit)
	if err != nil {
		observe.Logger(ctx).Warn("local: recall facts failed", "err", err)
		return prompt
	}
	if section := memory.PromptSection(facts); section != "" {
		if prompt == "" {
			return section
		}
		return prompt + "\n\n" + section
	}
	return prompt
}

// Status reports "online" and, when a probe is configured, the host
// statistics sentence.
func (c *Client) Status(ctx context.Context) (*backend.Status, error) {
	st := &backend.Status{Status: "online"}
	if c.probe == nil {
		return st, nil
	}
	stats, err := c.probe.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("local: status: %w", err)
	}
	st.SystemStats = action.FormatStats(stats)
	return st, nil
}
