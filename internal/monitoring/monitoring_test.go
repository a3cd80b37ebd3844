package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/test"
)

type failingKV struct {
	*storage.Memory
}

func (failingKV) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestServeMux(t *testing.T) {
	c := test.GetConfig()
	c.Monitoring.PrometheusEndpoint = true
	c.Monitoring.HealthcheckEndpoint = true

	t.Run("Healthy", func(t *testing.T) {
		assert := require.New(t)
		mux := newServeMux(c, storage.NewMemory())

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(http.StatusOK, rec.Code)
	})

	t.Run("Unhealthy", func(t *testing.T) {
		assert := require.New(t)
		mux := newServeMux(c, failingKV{storage.NewMemory()})

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusServiceUnavailable, rec.Code)
		assert.Contains(rec.Body.String(), "connection refused")
	})

	t.Run("Disabled", func(t *testing.T) {
		assert := require.New(t)
		mux := newServeMux(test.GetConfig(), storage.NewMemory())

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusNotFound, rec.Code)
	})
}
