package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_provision_count",
		Help: "The number of provisioning attempts (per method and result).",
	}, []string{"method", "result"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_command_count",
		Help: "The number of handled listener commands (per command and response).",
	}, []string{"command", "response"})
)

func provisionCounter(method, result string) prometheus.Counter {
	return pc.With(prometheus.Labels{"method": method, "result": result})
}

func commandCounter(cmd, resp string) prometheus.Counter {
	return cc.With(prometheus.Labels{"command": cmd, "response": resp})
}
