package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_join_count",
		Help: "The number of join attempts (per result).",
	}, []string{"result"})

	tc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_tx_count",
		Help: "The number of transmit / receive cycles (per response code).",
	}, []string{"code"})

	dc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_downlink_count",
		Help: "The number of received downlinks.",
	})
)

func joinCounter(r string) prometheus.Counter {
	return jc.With(prometheus.Labels{"result": r})
}

func txCounter(c string) prometheus.Counter {
	return tc.With(prometheus.Labels{"code": c})
}

func downlinkCounter() prometheus.Counter {
	return dc
}
