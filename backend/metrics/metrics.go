package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Call outcome labels.
const (
	OutcomeInvited   = "invited"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeBusy      = "busy"
	OutcomeCancelled = "cancelled"
	OutcomeTimedOut  = "timed_out"
	OutcomeEnded     = "ended"
)

// Metrics carries the subsystem counters on a private registry so
// independent instances can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	Calls  *prometheus.CounterVec
	Pushes *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signaling",
			Name:      "call_events_total",
			Help:      "Call signaling outcomes by type.",
		}, []string{"outcome"}),
		Pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signaling",
			Name:      "push_payloads_total",
			Help:      "Push payloads handed to the collaborator by type and result.",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
