package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	apihttp "sensor-gateway/internal/api/http"
	"sensor-gateway/internal/observability/metrics"
)

// KeyFunc derives the caller key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote address. With trustProxy the first
// X-Forwarded-For hop wins.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				first, _, _ := strings.Cut(forwarded, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// Middleware rejects requests over the limit with 429.
type Middleware struct {
	Limiter *Limiter
	Key     KeyFunc
	Skip    func(r *http.Request) bool
	Logger  *slog.Logger
}

// NewMiddleware constructs a rate limit middleware.
func NewMiddleware(limiter *Limiter, key KeyFunc, logger *slog.Logger) *Middleware {
	if key == nil {
		key = ClientIP(false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{Limiter: limiter, Key: key, Logger: logger}
}

// Wrap applies admission control to the handler. Counter failures admit
// the request so a broken counter store cannot take the gateway down.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := m.Limiter.Admit(r.Context(), m.Key(r))
		if err != nil {
			m.Logger.Error("rate limiter unavailable", "class", m.Limiter.Name(), "error", err)
			next.ServeHTTP(w, r)
			return
		}

		resetIn := int(math.Ceil(decision.ResetAt.Sub(m.Limiter.Now()).Seconds()))
		if resetIn < 0 {
			resetIn = 0
		}
		w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("RateLimit-Reset", strconv.Itoa(resetIn))

		if !decision.Allowed {
			metrics.IncRateLimited(m.Limiter.Name())
			m.Logger.Warn("rate limited", "class", m.Limiter.Name(), "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(resetIn))
			apihttp.WriteError(w, http.StatusTooManyRequests, apihttp.CodeRateLimited, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
