package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/internal/metrics"
	"github.com/benmeehan/router-agent/pkg/router"
)

func TestObserver_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := metrics.NewObserver(reg)
	require.NoError(t, err)

	o.AttemptFinished(router.KindLightware, false)
	o.AttemptFinished(router.KindVideohub, true)
	o.LabelsUploaded(router.KindKumo, 8, 2)
	o.CrosspointSwitched(router.KindKumo, true)
	o.SessionAlive(router.KindVideohub, true)
	o.SessionAlive(router.KindVideohub, true)
	o.SessionAlive(router.KindVideohub, false)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetValue()
			}
			if m.GetCounter() != nil {
				values[key] = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				values[key] = m.GetGauge().GetValue()
			}
		}
	}

	lightware, videohub, kumo := router.KindLightware.String(), router.KindVideohub.String(), router.KindKumo.String()
	assert.Equal(t, 1.0, values["router_agent_detect_attempts_total,"+lightware+",error"])
	assert.Equal(t, 1.0, values["router_agent_detect_attempts_total,"+videohub+",ok"])
	assert.Equal(t, 8.0, values["router_agent_label_uploads_total,"+kumo+",ok"])
	assert.Equal(t, 2.0, values["router_agent_label_uploads_total,"+kumo+",error"])
	assert.Equal(t, 1.0, values["router_agent_crosspoint_switches_total,"+kumo+",ok"])
	assert.Equal(t, 1.0, values["router_agent_sessions_alive,"+videohub])
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestNewObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewObserver(reg)
	require.NoError(t, err)

	_, err = metrics.NewObserver(reg)

	assert.Error(t, err)
}
