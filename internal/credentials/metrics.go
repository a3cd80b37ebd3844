package credentials

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ce = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credentials_store_error_count",
		Help: "The number of failed credentials store operations (per operation).",
	}, []string{"operation"})
)

func credentialsErrorCounter(op string) prometheus.Counter {
	return ce.With(prometheus.Labels{"operation": op})
}
