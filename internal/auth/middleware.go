package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apihttp "sensor-gateway/internal/api/http"
)

// Error codes written by the auth layer.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Middleware validates device tokens on protected routes.
type Middleware struct {
	Verifier Verifier
	Policy   Policy
	Logger   *slog.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(verifier Verifier, policy Policy, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{Verifier: verifier, Policy: policy, Logger: logger}
}

// Wrap applies token verification to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Policy.RequiresDevice(r) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Verifier.Verify(extractBearer(r))
		if err != nil {
			if errors.Is(err, ErrMissingToken) {
				apihttp.WriteError(w, http.StatusUnauthorized, CodeMissingToken, "access token required")
				return
			}
			m.Logger.Warn("token rejected", "path", r.URL.Path, "error", err)
			apihttp.WriteError(w, http.StatusForbidden, CodeInvalidToken, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
