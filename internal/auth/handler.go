package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apihttp "sensor-gateway/internal/api/http"
	"sensor-gateway/internal/observability/metrics"
)

const maxTokenRequestBytes = 4 << 10

// Issuer issues device tokens.
type Issuer interface {
	Issue(deviceID, deviceSecret string) (Token, error)
}

// TokenHandler serves POST /auth/token.
type TokenHandler struct {
	issuer Issuer
	logger *slog.Logger
}

// NewTokenHandler constructs a token handler.
func NewTokenHandler(issuer Issuer, logger *slog.Logger) (*TokenHandler, error) {
	if issuer == nil {
		return nil, errors.New("auth token handler: nil issuer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{issuer: issuer, logger: logger}, nil
}

type tokenRequest struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	TokenType string `json:"tokenType"`
}

// ServeHTTP exchanges device credentials for a bearer token.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apihttp.WriteError(w, http.StatusMethodNotAllowed, apihttp.CodeMethodNotAllowed, "method not allowed")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)).Decode(&req); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeInvalidJSON, "invalid json")
		return
	}

	token, err := h.issuer.Issue(req.DeviceID, req.DeviceSecret)
	switch {
	case errors.Is(err, ErrMissingCredentials):
		metrics.IncTokenIssue(metrics.ResultRejected)
		var details []apihttp.FieldError
		if req.DeviceID == "" {
			details = append(details, apihttp.FieldError{Field: "deviceId", Message: "is required"})
		}
		if req.DeviceSecret == "" {
			details = append(details, apihttp.FieldError{Field: "deviceSecret", Message: "is required"})
		}
		apihttp.WriteError(w, http.StatusBadRequest, CodeMissingFields, "deviceId and deviceSecret are required", details...)
		return
	case errors.Is(err, ErrInvalidCredentials):
		metrics.IncTokenIssue(metrics.ResultRejected)
		h.logger.Warn("device authentication failed", "deviceId", req.DeviceID)
		apihttp.WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid device credentials")
		return
	case err != nil:
		metrics.IncTokenIssue(metrics.ResultError)
		h.logger.Error("token issue failed", "deviceId", req.DeviceID, "error", err)
		apihttp.WriteError(w, http.StatusInternalServerError, apihttp.CodeInternal, "internal server error")
		return
	}

	metrics.IncTokenIssue(metrics.ResultSuccess)
	h.logger.Info("device token issued", "deviceId", token.DeviceID, "expiresAt", token.ExpiresAt)
	apihttp.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     token.Value,
		ExpiresIn: int64(token.ExpiresIn().Seconds()),
		TokenType: "Bearer",
	})
}
