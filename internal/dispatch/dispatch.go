// Package dispatch turns a brain reply into the text Cherry speaks, running
// the actions the reply asks for on the way.
//
// Text replies carry bracket directives such as "[OPEN: calculator]" or
// "[STATS]". A single scan finds them, the actions run in a fixed order, and
// a single rebuild removes the directives and appends the results of
// augmenting actions. Tool-call replies run each call by name and speak the
// joined results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/cherry/internal/action"
	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/mcp/mcphost"
	"github.com/MrWong99/cherry/internal/observe"
)

// ToolRunner executes a structured tool call.
type ToolRunner interface {
	RunTool(ctx context.Context, name, args string) (string, error)
}

var (
	_ ToolRunner = (*action.Registry)(nil)
	_ ToolRunner = (*mcphost.Host)(nil)
)

// Router tries each runner in order and moves on when a runner does not
// know the tool.
type Router []ToolRunner

// RunTool implements ToolRunner.
func (r Router) RunTool(ctx context.Context, name, args string) (string, error) {
	for _, tr := range r {
		out, err := tr.RunTool(ctx, name, args)
		if errors.Is(err, action.ErrUnknownAction) || errors.Is(err, mcphost.ErrToolNotFound) {
			continue
		}
		return out, err
	}
	return "", fmt.Errorf("%w: %q", action.ErrUnknownAction, name)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTools routes tool-call replies to tr instead of the action registry.
func WithTools(tr ToolRunner) Option {
	return func(d *Dispatcher) { d.tools = tr }
}

// WithMetrics records every execution.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher executes replies. It is safe for concurrent use.
type Dispatcher struct {
	actions *action.Registry
	tools   ToolRunner
	metrics *observe.Metrics
}

// New returns a Dispatcher for the given registry.
func New(actions *action.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{actions: actions, tools: actions}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch executes reply and returns the clean text to speak.
func (d *Dispatcher) Dispatch(ctx context.Context, reply backend.Reply) string {
	switch r := reply.(type) {
	case backend.Text:
		return d.Execute(ctx, r.Content)
	case backend.ToolCalls:
		return d.runCalls(ctx, r)
	default:
		return ""
	}
}

// Execute runs the directives of text and returns the rebuilt text. Failed
// actions are logged and skipped; their directive is still removed.
func (d *Dispatcher) Execute(ctx context.Context, text string) string {
	steps, consumed := plan(Scan(text, d.actions), d.actions)
	var extra []string
	for _, s := range steps {
		out, err := s.action.Handler(ctx, s.arg)
		d.record(ctx, s.action.Name, err)
		if err != nil {
			slog.Warn("dispatch: action failed", "action", s.action.Name, "arg", s.arg, "err", err)
			continue
		}
		if s.action.Kind == action.KindAugmenting {
			extra = append(extra, out)
		}
	}
	return rebuild(text, consumed, extra)
}

// Strip removes the directives of text without running anything.
func (d *Dispatcher) Strip(text string) string {
	_, consumed := plan(Scan(text, d.actions), d.actions)
	return rebuild(text, consumed, nil)
}

func (d *Dispatcher) runCalls(ctx context.Context, r backend.ToolCalls) string {
	parts := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		out, err := d.tools.RunTool(ctx, c.Name, c.Arguments)
		d.record(ctx, c.Name, err)
		if err != nil {
			slog.Warn("dispatch: tool call failed", "tool", c.Name, "err", err)
			out = err.Error()
		}
		if out = strings.TrimSpace(out); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, " ")
}

func (d *Dispatcher) record(ctx context.Context, name string, err error) {
	if d.metrics != nil {
		d.metrics.RecordDirective(ctx, name, err)
	}
}
