package commandchannel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commandchannel_line_received_count",
		Help: "The number of lines received by the command channel (per channel type).",
	}, []string{"type"})

	ls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commandchannel_line_sent_count",
		Help: "The number of lines sent by the command channel (per channel type).",
	}, []string{"type"})
)

func lineReceivedCounter(t string) prometheus.Counter {
	return lr.With(prometheus.Labels{"type": t})
}

func lineSentCounter(t string) prometheus.Counter {
	return ls.With(prometheus.Labels{"type": t})
}
