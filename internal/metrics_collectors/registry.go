package metrics_collectors

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/internal/models"
)

// MetricsRegistry holds the collectors sampled for every heartbeat.
type MetricsRegistry struct {
	collectors []MetricCollector
	logger     zerolog.Logger
}

// NewMetricsRegistry creates an empty MetricsRegistry.
func NewMetricsRegistry(logger zerolog.Logger) *MetricsRegistry {
	return &MetricsRegistry{logger: logger}
}

// NewDefaultRegistry registers the host and agent process collectors.
func NewDefaultRegistry(logger zerolog.Logger) *MetricsRegistry {
	r := NewMetricsRegistry(logger)
	r.Register(&CPUMetricCollector{})
	r.Register(&MemoryMetricCollector{})
	r.Register(&GoroutineMetricCollector{})
	r.Register(NewAgentMemoryCollector())
	return r
}

// Register adds a collector. A collector with the same name replaces the
// earlier one.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	for i, c := range r.collectors {
		if c.Name() == collector.Name() {
			r.collectors[i] = collector
			return
		}
	}
	r.collectors = append(r.collectors, collector)
}

// Collect samples every collector. Failing collectors are logged and left
// out of the result.
func (r *MetricsRegistry) Collect(ctx context.Context) map[string]models.HostMetric {
	out := make(map[string]models.HostMetric, len(r.collectors))
	for _, c := range r.collectors {
		if ctx.Err() != nil {
			break
		}
		v, err := c.Collect(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("metric", c.Name()).Msg("Failed to collect host metric")
			continue
		}
		out[c.Name()] = models.HostMetric{Value: v, Unit: c.Unit()}
	}
	return out
}
