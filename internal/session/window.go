// Package session keeps the short-term conversation memory that is sent to
// the brain with every utterance.
package session

import (
	"sync"

	"github.com/MrWong99/cherry/pkg/types"
)

// DefaultSize is the window used when New is given a non-positive size.
const DefaultSize = 10

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// Window is a bounded sliding window of conversation turns. A system turn at
// index 0 is pinned; when the count exceeds the size the oldest other turn
// is evicted. All methods are safe for concurrent use.
type Window struct {
	size int

	mu    sync.Mutex
	turns []types.Message
}

// New returns an empty window holding at most size turns, including a
// pinned system turn.
func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{size: size}
}

// Size returns the configured capacity.
func (w *Window) Size() int { return w.size }

// AddTurn appends a turn and evicts until the window fits.
func (w *Window) AddTurn(role, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, types.Message{Role: role, Content: content})
	w.evict()
}

// SetSystem installs content as the pinned system turn, replacing an
// existing one. An empty content removes it.
func (w *Window) SetSystem(content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	hasSystem := len(w.turns) > 0 && w.turns[0].Role == types.RoleSystem
	switch {
	case content == "" && hasSystem:
		w.turns = append(w.turns[:0:0], w.turns[1:]...)
	case content == "":
	case hasSystem:
		w.turns[0].Content = content
	default:
		w.turns = append([]types.Message{{Role: types.RoleSystem, Content: content}}, w.turns...)
		w.evict()
	}
}

// evict must be called with w.mu held.
func (w *Window) evict() {
	for len(w.turns) > w.size {
		i := 0
		if w.turns[0].Role == types.RoleSystem && len(w.turns) > 1 {
			i = 1
		}
		w.turns = append(w.turns[:i], w.turns[i+1:]...)
	}
}

// Context returns a copy of the turns, oldest first.
func (w *Window) Context() []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.Message, len(w.turns))
	copy(out, w.turns)
	return out
}

// History returns the turns without the pinned system turn.
func (w *Window) History() []types.Message {
	msgs := w.Context()
	if len(msgs) > 0 && msgs[0].Role == types.RoleSystem {
		return msgs[1:]
	}
	return msgs
}

// Len returns the number of stored turns.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Reset removes every turn except a pinned system turn.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.turns) > 0 && w.turns[0].Role == types.RoleSystem {
		w.turns = w.turns[:1]
		return
	}
	w.turns = w.turns[:0]
}

// TokenEstimate is a rough token count of the window using the
// four-characters-per-token heuristic.
func (w *Window) TokenEstimate() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	chars := 0
	for _, m := range w.turns {
		chars += len(m.Role) + len(m.Content)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
