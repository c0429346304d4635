// Package action holds Cherry's fixed set of host actions: opening apps and
// web searches, volume and media control, screenshots, host statistics and
// saving facts to long-term memory.
//
// Every action is reachable two ways. The language model can embed a bracket
// tag such as "[OPEN: calculator]" in a text reply, which the dispatcher
// resolves through [Registry.ByTag], or it can issue a structured tool call
// resolved through [Registry.RunTool].
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/cherry/pkg/types"
)

// ErrUnknownAction is returned for names and tags that are not registered.
var ErrUnknownAction = errors.New("action: unknown action")

// Kind controls how the dispatcher treats an action's tag.
type Kind int

const (
	// KindAugmenting tags take no argument; the action's result is appended
	// to the reply.
	KindAugmenting Kind = iota + 1

	// KindPlain tags take no argument; the action runs for its side effect.
	KindPlain

	// KindParameterized tags carry an argument after a colon.
	KindParameterized
)

func (k Kind) String() string {
	switch k {
	case KindAugmenting:
		return "augmenting"
	case KindPlain:
		return "plain"
	case KindParameterized:
		return "parameterized"
	default:
		return "unknown"
	}
}

// Handler runs an action. arg is empty for actions without a parameter.
type Handler func(ctx context.Context, arg string) (string, error)

// Action describes one registered action.
type Action struct {
	// Name is the tool name offered to the model, e.g. "open_app".
	Name string

	// Tag is the upper-case bracket tag, e.g. "OPEN".
	Tag string

	Kind        Kind
	Description string

	// Param names the single tool argument of parameterized actions.
	Param            string
	ParamDescription string

	// Enum optionally restricts Param.
	Enum []string

	Handler Handler
}

// Definition renders a as a tool definition.
func (a *Action) Definition() types.ToolDefinition {
	props := map[string]any{}
	schema := map[string]any{"type": "object", "properties": props}
	if a.Param != "" {
		p := map[string]any{"type": "string", "description": a.ParamDescription}
		if len(a.Enum) > 0 {
			p["enum"] = a.Enum
		}
		props[a.Param] = p
		schema["required"] = []string{a.Param}
	}
	return types.ToolDefinition{Name: a.Name, Description: a.Description, Parameters: schema}
}

// Registry maps action names and tags to handlers. Lookups are safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu     sync.RWMutex
	order  []*Action
	byName map[string]*Action
	byTag  map[string]*Action
}

// NewRegistry returns an empty registry. Use [New] for the built-in set.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Action),
		byTag:  make(map[string]*Action),
	}
}

// Register adds a. Names and tags must be unique.
func (r *Registry) Register(a Action) error {
	if a.Name == "" || a.Tag == "" {
		return errors.New("action: name and tag must not be empty")
	}
	if a.Handler == nil {
		return fmt.Errorf("action: %s has no handler", a.Name)
	}
	if a.Kind == KindParameterized && a.Param == "" {
		return fmt.Errorf("action: parameterized action %s needs a parameter name", a.Name)
	}
	tag := strings.ToUpper(a.Tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[a.Name]; dup {
		return fmt.Errorf("action: duplicate name %q", a.Name)
	}
	if _, dup := r.byTag[tag]; dup {
		return fmt.Errorf("action: duplicate tag %q", tag)
	}
	a.Tag = tag
	r.order = append(r.order, &a)
	r.byName[a.Name] = &a
	r.byTag[tag] = &a
	return nil
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// ByTag returns the action for a bracket tag. Tags are upper case and match
// exactly, so "[time]" in ordinary prose is never a directive.
func (r *Registry) ByTag(tag string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byTag[tag]
	return a, ok
}

// All returns the actions in registration order.
func (r *Registry) All() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Action(nil), r.order...)
}

// Tools returns the tool definitions of every action.
func (r *Registry) Tools() []types.ToolDefinition {
	all := r.All()
	defs := make([]types.ToolDefinition, len(all))
	for i, a := range all {
		defs[i] = a.Definition()
	}
	return defs
}

// Run executes the named action with a raw argument.
func (r *Registry) Run(ctx context.Context, name, arg string) (string, error) {
	a, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a.Handler(ctx, strings.TrimSpace(arg))
}

// RunTool executes a tool call. args is the JSON object produced by the
// model; its Param field becomes the action's argument.
func (r *Registry) RunTool(ctx context.Context, name, args string) (string, error) {
	a, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	arg, err := toolArgument(a, args)
	if err != nil {
		return "", err
	}
	return a.Handler(ctx, arg)
}

func toolArgument(a *Action, args string) (string, error) {
	if a.Param == "" {
		return "", nil
	}
	var m map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &m); err != nil {
			return "", fmt.Errorf("action: %s: invalid arguments: %w", a.Name, err)
		}
	}
	v, ok := m[a.Param]
	if !ok {
		return "", fmt.Errorf("action: %s: missing argument %q", a.Name, a.Param)
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(s), nil
}
