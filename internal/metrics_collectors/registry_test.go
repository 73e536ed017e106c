package metrics_collectors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/internal/metrics_collectors"
	"github.com/benmeehan/router-agent/internal/models"
)

type staticCollector struct {
	name  string
	value float64
	err   error
}

func (s staticCollector) Name() string { return s.name }
func (s staticCollector) Unit() string { return "count" }
func (s staticCollector) Collect(context.Context) (float64, error) {
	return s.value, s.err
}

// TestMetricsRegistry_Collect tests that failing collectors are skipped.
func TestMetricsRegistry_Collect(t *testing.T) {
	// Setup
	r := metrics_collectors.NewMetricsRegistry(zerolog.Nop())
	r.Register(staticCollector{name: "a", value: 1})
	r.Register(staticCollector{name: "b", err: errors.New("unavailable")})
	r.Register(staticCollector{name: "a", value: 2})

	// Execute
	got := r.Collect(context.Background())

	// Assert
	assert.Equal(t, map[string]models.HostMetric{"a": {Value: 2, Unit: "count"}}, got)
}

// TestMetricsRegistry_Cancelled tests that a cancelled context stops sampling.
func TestMetricsRegistry_Cancelled(t *testing.T) {
	r := metrics_collectors.NewMetricsRegistry(zerolog.Nop())
	r.Register(staticCollector{name: "a", value: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, r.Collect(ctx))
}

// TestDefaultRegistry tests the agent-local collectors that work on every host.
func TestDefaultRegistry(t *testing.T) {
	got := metrics_collectors.NewDefaultRegistry(zerolog.Nop()).Collect(context.Background())

	require.Contains(t, got, "goroutines")
	assert.Greater(t, got["goroutines"].Value, 0.0)
	assert.Equal(t, "count", got["goroutines"].Unit)
}
