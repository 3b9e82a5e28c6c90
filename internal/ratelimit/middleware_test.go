package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apihttp "sensor-gateway/internal/api/http"
)

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareReturns429WithHeaders(t *testing.T) {
	clock := &fakeClock{now: windowAligned}
	limiter, err := New("ingest", time.Minute, 1, WithClock(clock))
	require.NoError(t, err)
	handler := NewMiddleware(limiter, ClientIP(false), nil).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "1", resp.Header().Get("RateLimit-Limit"))
	require.Equal(t, "0", resp.Header().Get("RateLimit-Remaining"))
	require.Equal(t, "60", resp.Header().Get("RateLimit-Reset"))

	clock.Advance(20 * time.Second)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "40", resp.Header().Get("Retry-After"))
	require.Equal(t, "40", resp.Header().Get("RateLimit-Reset"))

	var body apihttp.ErrorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, apihttp.CodeRateLimited, body.Code)
}

func TestMiddlewareSkip(t *testing.T) {
	limiter, err := New("general", time.Minute, 1)
	require.NoError(t, err)
	mw := NewMiddleware(limiter, nil, nil)
	mw.Skip = func(r *http.Request) bool { return r.URL.Path == "/health" }
	handler := mw.Wrap(okHandler())

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	limiter, err := New("general", time.Minute, 1, WithCounter(failingCounter{}))
	require.NoError(t, err)
	handler := NewMiddleware(limiter, nil, nil).Wrap(okHandler())

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, "192.0.2.1", ClientIP(false)(req))
	require.Equal(t, "203.0.113.7", ClientIP(true)(req))

	req.RemoteAddr = "not-a-hostport"
	require.Equal(t, "not-a-hostport", ClientIP(false)(req))
}
