package monitoring

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/storage"
)

func healthCheckHandlerFunc(kv storage.KV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := kv.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(errors.Wrap(err, "storage ping error").Error()))
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
