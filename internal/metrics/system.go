package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemSampler periodically refreshes the goroutine/memory/CPU gauges,
// sampling CPU via gopsutil with exponential smoothing and writing
// straight into the Prometheus gauges.
type SystemSampler struct {
	metrics    *Metrics
	interval   time.Duration
	cpuPercent float64
}

// NewSystemSampler builds a sampler bound to m, sampling every interval.
func NewSystemSampler(m *Metrics, interval time.Duration) *SystemSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemSampler{metrics: m, interval: interval}
}

// Run samples until ctx is canceled. Intended to be launched in its own
// goroutine alongside the rest of the process's background work.
func (s *SystemSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *SystemSampler) sample() {
	s.metrics.GoroutinesCount.Set(float64(runtime.NumGoroutine()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.metrics.MemoryUsage.Set(float64(mem.HeapAlloc))

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		const alpha = 0.3
		s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
	}
	s.metrics.CPUUsage.Set(s.cpuPercent)
}
