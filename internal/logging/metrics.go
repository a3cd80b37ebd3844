package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logging_event_log_drop_count",
		Help: "The number of radio events dropped because the event log buffer was full.",
	})
)

func eventLogDropCounter() prometheus.Counter {
	return eld
}
