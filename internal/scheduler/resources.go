package scheduler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Utilization is a point-in-time host load reading, in percent.
type Utilization struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ResourceMonitor reports host load for admission decisions.
type ResourceMonitor interface {
	Utilization(ctx context.Context) (Utilization, error)
}

// HostMonitor reads live CPU and memory utilization from the OS.
type HostMonitor struct{}

func NewHostMonitor() *HostMonitor { return &HostMonitor{} }

func (m *HostMonitor) Utilization(ctx context.Context) (Utilization, error) {
	var u Utilization
	percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return u, err
	}
	if len(percents) > 0 {
		u.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, err
	}
	u.MemoryPercent = vm.UsedPercent
	return u, nil
}

// Thresholds define the load above which new work is deferred.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Overloaded reports whether either threshold is exceeded. A zero
// threshold disables that dimension.
func (t Thresholds) Overloaded(u Utilization) bool {
	if t.CPUPercent > 0 && u.CPUPercent > t.CPUPercent {
		return true
	}
	if t.MemoryPercent > 0 && u.MemoryPercent > t.MemoryPercent {
		return true
	}
	return false
}
