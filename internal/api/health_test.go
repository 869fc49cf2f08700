package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		code     int
		status   string
		deps     map[string]string
	}{
		{"memory only", nil, nil, http.StatusOK, "ok", map[string]string{}},
		{"all up", stubPinger{}, RedisPinger(func(context.Context) error { return nil }), http.StatusOK, "ok",
			map[string]string{"postgres": "ok", "redis": "ok"}},
		{"redis down", stubPinger{}, stubPinger{err: down}, http.StatusOK, "degraded",
			map[string]string{"postgres": "ok", "redis": "down"}},
		{"postgres down", stubPinger{err: down}, stubPinger{}, http.StatusServiceUnavailable, "error",
			map[string]string{"postgres": "down", "redis": "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "1.2.0")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.deps, resp.Dependencies)
			assert.Equal(t, "1.2.0", resp.Version)
		})
	}
}

func TestLivenessThroughRouter(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/live", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LivenessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Env)
}
