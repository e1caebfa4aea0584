package agent

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// MemStatsProvider abstracts runtime.MemStats reading for testability.
type MemStatsProvider interface {
	ReadMemStats(m *runtime.MemStats)
}

// runtimeMemStatsProvider uses the real runtime.ReadMemStats.
type runtimeMemStatsProvider struct{}

func (runtimeMemStatsProvider) ReadMemStats(m *runtime.MemStats) {
	runtime.ReadMemStats(m)
}

// currentMemoryLimit reads GOMEMLIMIT without changing it.
func currentMemoryLimit() int64 {
	return debug.SetMemoryLimit(-1)
}

// MemoryPressure is one reading taken by the monitor.
type MemoryPressure struct {
	UsageBytes uint64
	LimitBytes uint64
	Ratio      float64
}

// MemoryPressureMonitor polls runtime.MemStats at a regular interval and
// invokes a callback when memory usage exceeds a configurable threshold
// relative to GOMEMLIMIT (set by automemlimit from the cgroup limit).
type MemoryPressureMonitor struct {
	threshold float64       // 0.8 = 80%
	callback  func(MemoryPressure)
	interval  time.Duration
	provider  MemStatsProvider
	limit     func() int64
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewMemoryPressureMonitor creates a monitor that calls callback when
// memory usage exceeds threshold * GOMEMLIMIT.
// If provider is nil, the real runtime.ReadMemStats is used.
func NewMemoryPressureMonitor(threshold float64, callback func(MemoryPressure), interval time.Duration, provider MemStatsProvider) *MemoryPressureMonitor {
	if provider == nil {
		provider = runtimeMemStatsProvider{}
	}
	return &MemoryPressureMonitor{
		threshold: threshold,
		callback:  callback,
		interval:  interval,
		provider:  provider,
		limit:     currentMemoryLimit,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background polling goroutine.
func (m *MemoryPressureMonitor) Start() {
	go m.run()
}

func (m *MemoryPressureMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if p, over := m.Check(); over {
				slog.Warn("memory pressure detected",
					"usage_bytes", p.UsageBytes,
					"limit_bytes", p.LimitBytes,
					"ratio", p.Ratio,
				)
				m.callback(p)
			}
		}
	}
}

// Check takes one reading and reports whether it is over the threshold.
// Without a memory limit it always reports false.
func (m *MemoryPressureMonitor) Check() (MemoryPressure, bool) {
	limit := m.limit()
	if limit <= 0 {
		return MemoryPressure{}, false
	}

	var stats runtime.MemStats
	m.provider.ReadMemStats(&stats)

	p := MemoryPressure{
		UsageBytes: stats.Sys - stats.HeapReleased,
		LimitBytes: uint64(limit),
	}
	p.Ratio = float64(p.UsageBytes) / float64(p.LimitBytes)
	return p, p.Ratio > m.threshold
}

// Stop halts the background polling goroutine. Safe to call multiple times.
func (m *MemoryPressureMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
