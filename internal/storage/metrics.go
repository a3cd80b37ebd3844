package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kvg = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_kv_get_count",
		Help: "The number of key / value reads (per backend).",
	}, []string{"backend"})

	kvs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_kv_set_count",
		Help: "The number of key / value writes (per backend).",
	}, []string{"backend"})

	kve = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_kv_error_count",
		Help: "The number of failed key / value operations (per backend).",
	}, []string{"backend"})
)

func kvGetCounter(b string) prometheus.Counter {
	return kvg.With(prometheus.Labels{"backend": b})
}

func kvSetCounter(b string) prometheus.Counter {
	return kvs.With(prometheus.Labels{"backend": b})
}

func kvErrorCounter(b string) prometheus.Counter {
	return kve.With(prometheus.Labels{"backend": b})
}
