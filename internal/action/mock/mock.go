// Package mock provides test doubles for the action package: a Runner that
// records commands instead of executing them and a scripted host Probe.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/cherry/internal/action"
)

// Runner records every command. Set Err to make every call fail.
type Runner struct {
	mu sync.Mutex

	Err error

	// FailFor makes calls whose program (argv[0]) is a key fail with the
	// mapped error.
	FailFor map[string]error

	// Commands records argv of every call, in order.
	Commands [][]string
}

var _ action.Runner = (*Runner)(nil)

// Run implements action.Runner.
func (r *Runner) Run(_ context.Context, argv []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, slices.Clone(argv))
	if err, ok := r.FailFor[argv[0]]; ok {
		return err
	}
	return r.Err
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Commands)
}

// Probe returns scripted host statistics.
type Probe struct {
	mu sync.Mutex

	StatsResult action.Stats
	StatsErr    error

	BatteryResult *action.BatteryStatus
	BatteryErr    error

	// BatteryReads counts Battery calls.
	BatteryReads int
}

var _ action.Probe = (*Probe)(nil)

// Stats implements action.Probe.
func (p *Probe) Stats(context.Context) (action.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StatsResult, p.StatsErr
}

// Battery implements action.Probe.
func (p *Probe) Battery(context.Context) (*action.BatteryStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatteryReads++
	return p.BatteryResult, p.BatteryErr
}

// SetBattery replaces the scripted battery state.
func (p *Probe) SetBattery(b *action.BatteryStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatteryResult, p.BatteryErr = b, err
}

// Reads returns the number of Battery calls.
func (p *Probe) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.BatteryReads
}
