// Package pulse watches the host battery in the background and warns the
// user, between conversations, when it runs low.
package pulse

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/cherry/internal/action"
)

// Warning is spoken when the battery is critical.
const Warning = "Battery levels are critical. Please connect a power source."

// Defaults.
const (
	DefaultInterval     = 10 * time.Second
	DefaultThreshold    = 20.0
	DefaultCooldown     = 5 * time.Minute
	DefaultErrorBackoff = time.Minute
)

// Config tunes a [Monitor]. Zero values select the defaults.
type Config struct {
	Interval     time.Duration
	Threshold    float64
	Cooldown     time.Duration
	ErrorBackoff time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Monitor polls the battery and announces [Warning].
type Monitor struct {
	probe    action.Probe
	announce func(string) bool
	cfg      Config

	lastWarn time.Time
}

// New returns a monitor reading from probe. announce hands text to the
// conversation loop, which speaks it only between conversations; it reports
// false when the text was not accepted.
func New(probe action.Probe, announce func(string) bool, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{probe: probe, announce: announce, cfg: cfg}
}

// Run checks the battery until ctx is cancelled. It returns nil on
// cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("pulse: battery monitor started", "interval", m.cfg.Interval, "threshold", m.cfg.Threshold)
	for {
		wait := m.Check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Check reads the battery once, warns when due, and returns the delay until
// the next check.
func (m *Monitor) Check(ctx context.Context) time.Duration {
	b, err := m.probe.Battery(ctx)
	if err != nil {
		slog.Warn("pulse: battery read failed", "err", err, "retry_in", m.cfg.ErrorBackoff)
		return m.cfg.ErrorBackoff
	}
	if b == nil || b.Charging || b.Percent >= m.cfg.Threshold {
		return m.cfg.Interval
	}
	now := m.cfg.Now()
	if !m.lastWarn.IsZero() && now.Sub(m.lastWarn) < m.cfg.Cooldown {
		return m.cfg.Interval
	}
	if !m.announce(Warning) {
		return m.cfg.Interval
	}
	slog.Warn("pulse: battery critical", "percent", b.Percent)
	m.lastWarn = now
	return m.cfg.Interval
}
