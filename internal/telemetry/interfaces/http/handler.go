package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apihttp "sensor-gateway/internal/api/http"
	"sensor-gateway/internal/auth"
	"sensor-gateway/internal/observability/metrics"
	"sensor-gateway/internal/telemetry/application"
	telemetry "sensor-gateway/internal/telemetry/domain"
)

const (
	maxReadingBytes = 32 << 10
	maxBulkBytes    = 512 << 10

	routeIngest = "/ingest"
	routeBulk   = "/ingest/bulk"
)

// Ingester is the ingestion use case served over HTTP.
type Ingester interface {
	IngestOne(ctx context.Context, deviceID string, reading telemetry.Reading) (application.Receipt, error)
	IngestBatch(ctx context.Context, deviceID string, readings []json.RawMessage, location string) (application.BatchOutcome, error)
	MaxBatch() int
}

// Handler serves the ingestion endpoints.
type Handler struct {
	ingester Ingester
	logger   *slog.Logger
	reading  *jsonschema.Schema
	bulk     *jsonschema.Schema
}

// NewHandler constructs a handler and compiles its request schemas.
func NewHandler(ingester Ingester, logger *slog.Logger) (*Handler, error) {
	if ingester == nil {
		return nil, errors.New("telemetry handler: nil ingester")
	}
	if logger == nil {
		logger = slog.Default()
	}
	reading, err := readingSchema()
	if err != nil {
		return nil, fmt.Errorf("telemetry handler: reading schema: %w", err)
	}
	bulk, err := bulkSchema(ingester.MaxBatch())
	if err != nil {
		return nil, fmt.Errorf("telemetry handler: bulk schema: %w", err)
	}
	return &Handler{
		ingester: ingester,
		logger:   logger,
		reading:  reading,
		bulk:     bulk,
	}, nil
}

// Register mounts the ingestion routes. Middleware is applied in order, the
// first entry outermost.
func (h *Handler) Register(mux *http.ServeMux, middleware ...func(http.Handler) http.Handler) {
	mux.Handle(routeIngest, chain(http.HandlerFunc(h.handleIngest), middleware))
	mux.Handle(routeBulk, chain(http.HandlerFunc(h.handleBulk), middleware))
}

func chain(handler http.Handler, middleware []func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

type ingestResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
	Timestamp  string `json:"timestamp"`
}

type bulkRequest struct {
	Readings []json.RawMessage `json:"readings"`
	Location string            `json:"location"`
}

type bulkResponse struct {
	Success   bool                     `json:"success"`
	Processed int                      `json:"processed"`
	Failed    int                      `json:"failed"`
	Results   []application.ItemResult `json:"results"`
	Errors    []application.ItemError  `json:"errors,omitempty"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() { metrics.ObserveIngest(routeIngest, result, time.Since(start)) }()

	if r.Method != http.MethodPost {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusMethodNotAllowed, apihttp.CodeMethodNotAllowed, "method not allowed")
		return
	}
	deviceID := auth.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusUnauthorized, auth.CodeMissingToken, "access token required")
		return
	}

	body, ok := h.readBody(w, r, maxReadingBytes, h.reading)
	if !ok {
		result = metrics.ResultRejected
		return
	}
	var reading telemetry.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeValidation, "invalid reading",
			apihttp.FieldError{Field: "body", Message: err.Error(), Code: telemetry.CodeInvalidReading})
		return
	}

	receipt, err := h.ingester.IngestOne(r.Context(), deviceID, reading)
	if err != nil {
		result = h.writeIngestError(w, deviceID, reading.SensorType, err)
		return
	}

	apihttp.WriteJSON(w, http.StatusCreated, ingestResponse{
		Success:    true,
		DocumentID: receipt.DocumentID,
		Timestamp:  receipt.Record.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() { metrics.ObserveIngest(routeBulk, result, time.Since(start)) }()

	if r.Method != http.MethodPost {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusMethodNotAllowed, apihttp.CodeMethodNotAllowed, "method not allowed")
		return
	}
	deviceID := auth.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusUnauthorized, auth.CodeMissingToken, "access token required")
		return
	}

	body, ok := h.readBody(w, r, maxBulkBytes, h.bulk)
	if !ok {
		result = metrics.ResultRejected
		return
	}
	var req bulkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		result = metrics.ResultRejected
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeValidation, "invalid bulk request",
			apihttp.FieldError{Field: "body", Message: err.Error()})
		return
	}

	outcome, err := h.ingester.IngestBatch(r.Context(), deviceID, req.Readings, req.Location)
	if err != nil {
		result = h.writeIngestError(w, deviceID, "", err)
		return
	}
	if outcome.Failed > 0 {
		metrics.IncIngestError("bulk_item")
		h.logger.Warn("bulk ingest partial failure",
			"deviceId", deviceID,
			"processed", outcome.Processed,
			"failed", outcome.Failed,
		)
	}

	apihttp.WriteJSON(w, http.StatusCreated, bulkResponse{
		Success:   true,
		Processed: outcome.Processed,
		Failed:    outcome.Failed,
		Results:   outcome.Results,
		Errors:    outcome.Errors,
	})
}

// readBody enforces the size cap and validates the body against schema.
// It writes the error response itself and reports false on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, limit int64, schema *jsonschema.Schema) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apihttp.WriteError(w, http.StatusRequestEntityTooLarge, apihttp.CodePayloadTooLarge, "request body too large")
			return nil, false
		}
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeInvalidJSON, "read body error")
		return nil, false
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeInvalidJSON, "invalid json")
		return nil, false
	}
	if err := schema.Validate(doc); err != nil {
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeValidation, "request validation failed", schemaDetails(err)...)
		return nil, false
	}
	return body, true
}

// writeIngestError maps an ingest failure onto a response and returns the metric result.
func (h *Handler) writeIngestError(w http.ResponseWriter, deviceID, sensorType string, err error) string {
	code := application.ErrorCode(err)
	message := application.ErrorMessage(err)

	var verr *telemetry.ValidationError
	switch {
	case errors.Is(err, telemetry.ErrDeviceIDMismatch):
		metrics.IncIngestError(code)
		h.logger.Warn("device id mismatch", "deviceId", deviceID)
		apihttp.WriteError(w, http.StatusForbidden, code, message)
		return metrics.ResultRejected
	case errors.As(err, &verr):
		metrics.IncIngestError(code)
		apihttp.WriteError(w, http.StatusBadRequest, apihttp.CodeValidation, "reading validation failed",
			apihttp.FieldError{Field: verr.Field, Message: verr.Message, Code: verr.Code})
		return metrics.ResultRejected
	default:
		metrics.IncIngestError(code)
		h.logger.Error("ingest failed", "deviceId", deviceID, "sensorType", sensorType, "class", code, "error", err)
		apihttp.WriteError(w, http.StatusInternalServerError, code, message)
		return metrics.ResultError
	}
}
