package assistant

import (
	"sync"
	"sync/atomic"
)

// State is the interaction state of the assistant.
type State int32

const (
	// Idle waits for the wake phrase.
	Idle State = iota

	// Listening collects the spoken command.
	Listening

	// Thinking waits for the brain.
	Thinking

	// Speaking plays the reply.
	Speaking
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Thinking:
		return "THINKING"
	case Speaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Event drives the state machine.
type Event int

const (
	EventWake Event = iota
	EventContinue
	EventBackground
	EventEnded
	EventTimeout
	EventReply
	EventFailure
	EventPlaybackIdle
)

func (e Event) String() string {
	switch e {
	case EventWake:
		return "wake"
	case EventContinue:
		return "continue"
	case EventBackground:
		return "background"
	case EventEnded:
		return "ended"
	case EventTimeout:
		return "timeout"
	case EventReply:
		return "reply"
	case EventFailure:
		return "failure"
	case EventPlaybackIdle:
		return "playback_idle"
	default:
		return "unknown"
	}
}

type edge struct {
	from  State
	event Event
}

// transitions is the complete edge set. Anything else is a no-op.
var transitions = map[edge]State{
	{Idle, EventWake}:             Listening,
	{Listening, EventContinue}:    Listening,
	{Listening, EventBackground}:  Listening,
	{Listening, EventTimeout}:     Idle,
	{Listening, EventEnded}:       Thinking,
	{Thinking, EventReply}:        Speaking,
	{Thinking, EventFailure}:      Idle,
	{Speaking, EventPlaybackIdle}: Idle,
}

// Machine holds the current state. State may be read from any goroutine;
// Fire is called by the pipeline loop only.
type Machine struct {
	state atomic.Int32

	mu        sync.Mutex
	observers []func(from, to State)
}

// NewMachine returns a machine in [Idle].
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// OnTransition registers fn to run after every state change. Self edges do
// not notify.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Fire applies ev. ok is false when the current state has no edge for ev,
// in which case nothing changes.
func (m *Machine) Fire(ev Event) (next State, ok bool) {
	from := m.State()
	next, ok = transitions[edge{from, ev}]
	if !ok {
		return from, false
	}
	if next == from {
		return next, true
	}
	m.state.Store(int32(next))

	m.mu.Lock()
	obs := m.observers
	m.mu.Unlock()
	for _, fn := range obs {
		fn(from, next)
	}
	return next, true
}
