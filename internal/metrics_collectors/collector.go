package metrics_collectors

import "context"

// MetricCollector reads one host gauge for the heartbeat.
type MetricCollector interface {
	Name() string
	Unit() string
	Collect(ctx context.Context) (float64, error)
}
