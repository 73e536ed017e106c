package metrics_collectors

import (
	"context"
	"errors"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// CPUMetricCollector reports CPU utilisation across all cores since the
// previous sample.
type CPUMetricCollector struct{}

func (c *CPUMetricCollector) Name() string { return "cpu" }
func (c *CPUMetricCollector) Unit() string { return "percentage" }

func (c *CPUMetricCollector) Collect(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, errors.New("cpu usage data is empty")
	}
	return percentages[0], nil
}

// MemoryMetricCollector reports the percentage of used virtual memory.
type MemoryMetricCollector struct{}

func (m *MemoryMetricCollector) Name() string { return "memory" }
func (m *MemoryMetricCollector) Unit() string { return "percentage" }

func (m *MemoryMetricCollector) Collect(ctx context.Context) (float64, error) {
	stats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return stats.UsedPercent, nil
}

// GoroutineMetricCollector reports the number of goroutines in the agent.
type GoroutineMetricCollector struct{}

func (g *GoroutineMetricCollector) Name() string { return "goroutines" }
func (g *GoroutineMetricCollector) Unit() string { return "count" }

func (g *GoroutineMetricCollector) Collect(context.Context) (float64, error) {
	return float64(runtime.NumGoroutine()), nil
}

// AgentMemoryCollector reports the resident set size of a process,
// by default the agent itself.
type AgentMemoryCollector struct {
	PID int32
}

// NewAgentMemoryCollector watches the current process.
func NewAgentMemoryCollector() *AgentMemoryCollector {
	return &AgentMemoryCollector{PID: int32(os.Getpid())}
}

func (a *AgentMemoryCollector) Name() string { return "agent_rss" }
func (a *AgentMemoryCollector) Unit() string { return "bytes" }

func (a *AgentMemoryCollector) Collect(ctx context.Context) (float64, error) {
	proc, err := process.NewProcessWithContext(ctx, a.PID)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(info.RSS), nil
}
