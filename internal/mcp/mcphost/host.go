// Package mcphost connects Cherry to Model Context Protocol tool servers
// using the official MCP Go SDK and exposes their tools, together with
// in-process builtins, through one catalogue.
//
// Typical usage:
//
//	h := mcphost.New()
//	defer h.Close()
//	_ = h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "weather",
//	    Transport: mcp.TransportStreamableHTTP,
//	    URL:       "http://localhost:9000/mcp",
//	})
//	out, err := h.RunTool(ctx, "get_forecast", `{"city":"Berlin"}`)
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/cherry/internal/mcp"
	"github.com/MrWong99/cherry/pkg/types"
)

// ErrToolNotFound is returned for names missing from the catalogue.
var ErrToolNotFound = errors.New("mcp host: tool not found")

const builtinServerName = "__builtin__"

// BuiltinTool is a tool implemented as an in-process Go function.
type BuiltinTool struct {
	// Definition is the descriptor offered to the LLM.
	Definition types.ToolDefinition

	// Handler receives the JSON object arguments. A returned error marks the
	// result as an application error.
	Handler func(ctx context.Context, args string) (string, error)
}

type toolEntry struct {
	def        types.ToolDefinition
	serverName string
	builtinFn  func(ctx context.Context, args string) (string, error)
}

// Host manages MCP server sessions and the merged tool catalogue. It is
// safe for concurrent use. Create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]*mcpsdk.ClientSession

	// One SDK client manages every session.
	client *mcpsdk.Client
}

// New returns an empty Host.
func New() *Host {
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]*mcpsdk.ClientSession),
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: "cherry", Version: "1.0.0"}, nil),
	}
}

// RegisterServer connects to the server described by cfg and imports its
// tools. Re-registering a name replaces the previous session and its tools.
// Tools never shadow builtins of the same name.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("mcp host: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to %q: %w", cfg.Name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}
	h.servers[cfg.Name] = session
	for _, t := range discovered {
		if existing, ok := h.tools[t.Name]; ok && existing.builtinFn != nil {
			continue
		}
		h.tools[t.Name] = toolEntry{
			def: types.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			serverName: cfg.Name,
		}
	}
	return nil
}

// RegisterBuiltin adds or replaces an in-process tool.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return errors.New("mcp host: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("mcp host: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		builtinFn:  tool.Handler,
	}
	return nil
}

// Tools returns every tool definition sorted by name.
func (h *Host) Tools() []types.ToolDefinition {
	h.mu.RLock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, t := range h.tools {
		defs = append(defs, t.def)
	}
	h.mu.RUnlock()
	slices.SortFunc(defs, func(a, b types.ToolDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// ExecuteTool runs the named tool. A non-nil result is returned even when
// the tool reports an application error; a Go error means the tool could
// not be reached.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	session := h.servers[entry.serverName]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	if entry.builtinFn != nil {
		out, err := entry.builtinFn(ctx, args)
		if err != nil {
			return &mcp.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &mcp.ToolResult{Content: out}, nil
	}
	if session == nil {
		return nil, fmt.Errorf("mcp host: server %q for tool %q is gone", entry.serverName, name)
	}

	var argsMap map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: invalid arguments for %q: %w", name, err)
		}
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call %q: %w", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{Content: sb.String(), IsError: res.IsError}, nil
}

// RunTool runs the named tool and returns its text. Application errors are
// returned as Go errors carrying the tool's message.
func (h *Host) RunTool(ctx context.Context, name, args string) (string, error) {
	res, err := h.ExecuteTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s: %s", name, res.Content)
	}
	return res.Content, nil
}

// Close ends every server session and empties the catalogue.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, s := range h.servers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close %q: %w", name, err))
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return errors.Join(errs...)
}

// schemaToMap converts an SDK input schema to a plain JSON Schema map.
func schemaToMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}
