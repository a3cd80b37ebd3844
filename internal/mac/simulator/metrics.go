package simulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_event_count",
		Help: "The number of events emitted by the simulated MAC engine (per event type).",
	}, []string{"type"})
)

func eventCounter(t string) prometheus.Counter {
	return ec.With(prometheus.Labels{"type": t})
}
