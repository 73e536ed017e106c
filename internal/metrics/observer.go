// Package metrics exposes router activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/benmeehan/router-agent/pkg/router"
)

const namespace = "router_agent"

// Observer implements router.Observer with Prometheus collectors.
type Observer struct {
	attempts *prometheus.CounterVec
	labels   *prometheus.CounterVec
	switches *prometheus.CounterVec
	sessions *prometheus.GaugeVec
}

var _ router.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_attempts_total",
			Help:      "Handshake attempts by backend and result.",
		}, []string{"backend", "result"}),
		labels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_uploads_total",
			Help:      "Label records submitted by backend and result.",
		}, []string{"backend", "result"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crosspoint_switches_total",
			Help:      "Crosspoint switch requests by backend and result.",
		}, []string{"backend", "result"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_alive",
			Help:      "Live router sessions by backend.",
		}, []string{"backend"}),
	}

	for _, c := range []prometheus.Collector{o.attempts, o.labels, o.switches, o.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) AttemptFinished(kind router.Kind, ok bool) {
	o.attempts.WithLabelValues(kind.String(), result(ok)).Inc()
}

func (o *Observer) LabelsUploaded(kind router.Kind, succeeded, failed int) {
	o.labels.WithLabelValues(kind.String(), "ok").Add(float64(succeeded))
	o.labels.WithLabelValues(kind.String(), "error").Add(float64(failed))
}

func (o *Observer) CrosspointSwitched(kind router.Kind, ok bool) {
	o.switches.WithLabelValues(kind.String(), result(ok)).Inc()
}

func (o *Observer) SessionAlive(kind router.Kind, alive bool) {
	if alive {
		o.sessions.WithLabelValues(kind.String()).Inc()
		return
	}
	o.sessions.WithLabelValues(kind.String()).Dec()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
