package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Stats is a snapshot of host load.
type Stats struct {
	CPUPercent float64
	RAMPercent float64

	// Battery is nil on hosts without one.
	Battery *BatteryStatus
}

// BatteryStatus is the combined charge of all batteries.
type BatteryStatus struct {
	Percent  float64
	Charging bool
}

// Probe reads host statistics.
type Probe interface {
	Stats(ctx context.Context) (Stats, error)

	// Battery returns the charge state, or nil without a battery.
	Battery(ctx context.Context) (*BatteryStatus, error)
}

// HostProbe reads statistics of the local machine.
type HostProbe struct {
	// CPUSample is the interval over which CPU usage is measured.
	// Default: 200ms.
	CPUSample time.Duration
}

var _ Probe = HostProbe{}

// Stats implements Probe.
func (p HostProbe) Stats(ctx context.Context) (Stats, error) {
	sample := p.CPUSample
	if sample <= 0 {
		sample = 200 * time.Millisecond
	}
	cpus, err := cpu.PercentWithContext(ctx, sample, false)
	if err != nil {
		return Stats{}, fmt.Errorf("action: cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("action: memory usage: %w", err)
	}
	s := Stats{RAMPercent: vm.UsedPercent}
	if len(cpus) > 0 {
		s.CPUPercent = cpus[0]
	}
	// A missing battery is not an error for the stats summary.
	s.Battery, _ = p.Battery(ctx)
	return s, nil
}

// Battery implements Probe. Charge is summed over every battery that
// reports a capacity.
func (HostProbe) Battery(_ context.Context) (*BatteryStatus, error) {
	batteries, err := battery.GetAll()
	var current, full float64
	charging := false
	for _, b := range batteries {
		if b == nil || b.Full <= 0 {
			continue
		}
		current += b.Current
		full += b.Full
		switch strings.ToLower(b.State.String()) {
		case "charging", "full":
			charging = true
		}
	}
	if full == 0 {
		if err != nil {
			return nil, fmt.Errorf("action: battery: %w", err)
		}
		return nil, nil
	}
	return &BatteryStatus{Percent: 100 * current / full, Charging: charging}, nil
}

// FormatStats renders s the way the assistant speaks it.
func FormatStats(s Stats) string {
	out := fmt.Sprintf("CPU usage is at %s%%. RAM usage is at %s%%.", pct(s.CPUPercent), pct(s.RAMPercent))
	if s.Battery != nil {
		out += fmt.Sprintf(" Battery is at %s%%.", pct(s.Battery.Percent))
	}
	return out
}

// pct prints one decimal place and drops a trailing ".0".
func pct(v float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0")
}
