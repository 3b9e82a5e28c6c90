package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sensor-gateway/internal/observability/metrics"
	telemetry "sensor-gateway/internal/telemetry/domain"
)

const (
	// DefaultStoreTimeout bounds one store write.
	DefaultStoreTimeout = 10 * time.Second
	// DefaultMaxBatch is the largest accepted bulk request.
	DefaultMaxBatch = 100
)

// Backend failure codes.
const (
	CodeBackendAuth        = "BACKEND_AUTH_ERROR"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeIngestion          = "INGESTION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	// ErrBackendAuth is returned when the store rejects the gateway's credentials.
	ErrBackendAuth = errors.New("ingest: store rejected credentials")
	// ErrBackendUnavailable is returned when the store target is missing or did not answer in time.
	ErrBackendUnavailable = errors.New("ingest: store unavailable")
	// ErrIngestion is returned for any other store failure.
	ErrIngestion = errors.New("ingest: store write failed")
	// ErrPanic is returned when processing a reading panicked.
	ErrPanic = errors.New("ingest: internal error")
)

// Receipt is the result of a successful single ingest.
type Receipt struct {
	DocumentID string
	Record     telemetry.Record
}

// ItemResult describes one stored reading of a batch.
type ItemResult struct {
	Index      int                  `json:"index"`
	DocumentID string               `json:"documentId"`
	SensorType telemetry.SensorType `json:"sensorType"`
	Value      float64              `json:"value"`
}

// ItemError describes one rejected reading of a batch.
type ItemError struct {
	Index   int             `json:"index"`
	Reading json.RawMessage `json:"reading"`
	Code    string          `json:"code"`
	Field   string          `json:"field,omitempty"`
	Error   string          `json:"error"`
}

// BatchOutcome lists per-reading outcomes in input order.
type BatchOutcome struct {
	Processed int
	Failed    int
	Results   []ItemResult
	Errors    []ItemError
}

// Coordinator normalizes readings and writes them to the store.
type Coordinator struct {
	store        telemetry.Store
	normalizer   *telemetry.Normalizer
	logger       *slog.Logger
	backend      string
	storeTimeout time.Duration
	maxBatch     int
	concurrency  int
	addReadings  func(result string, count int)
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithNormalizer overrides the default normalizer.
func WithNormalizer(n *telemetry.Normalizer) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.normalizer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackendName labels store metrics.
func WithBackendName(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.backend = name
		}
	}
}

// WithStoreTimeout overrides the per-write timeout.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.storeTimeout = timeout
		}
	}
}

// WithMaxBatch overrides the bulk size limit.
func WithMaxBatch(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.maxBatch = limit
		}
	}
}

// WithConcurrency sets how many batch items are written at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewCoordinator constructs an ingestion coordinator.
func NewCoordinator(store telemetry.Store, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("ingest: nil store")
	}
	c := &Coordinator{
		store:        store,
		normalizer:   telemetry.NewNormalizer(),
		logger:       slog.Default(),
		backend:      "unknown",
		storeTimeout: DefaultStoreTimeout,
		maxBatch:     DefaultMaxBatch,
		concurrency:  1,
		addReadings:  metrics.AddReadings,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MaxBatch returns the bulk size limit.
func (c *Coordinator) MaxBatch() int { return c.maxBatch }

// IngestOne normalizes a reading and writes it with exactly one store call.
func (c *Coordinator) IngestOne(ctx context.Context, deviceID string, reading telemetry.Reading) (Receipt, error) {
	record, err := c.normalizer.Normalize(reading, deviceID, "")
	if err != nil {
		c.addReadings(metrics.ResultRejected, 1)
		return Receipt{}, err
	}
	id, err := c.write(ctx, record, -1)
	if err != nil {
		c.addReadings(metrics.ResultError, 1)
		return Receipt{}, err
	}
	c.addReadings(metrics.ResultSuccess, 1)
	return Receipt{DocumentID: id, Record: record}, nil
}

// IngestBatch processes every reading independently. The returned error is
// only set when the batch itself is rejected.
func (c *Coordinator) IngestBatch(ctx context.Context, deviceID string, readings []json.RawMessage, location string) (BatchOutcome, error) {
	if len(readings) == 0 || len(readings) > c.maxBatch {
		return BatchOutcome{}, telemetry.NewValidationError(
			telemetry.CodeInvalidBatchSize, "readings",
			"readings must contain between 1 and %d items", c.maxBatch,
		)
	}

	results := make([]itemOutcome, len(readings))
	if c.concurrency <= 1 {
		for i, raw := range readings {
			results[i] = c.processItem(ctx, deviceID, i, raw, location)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for i, raw := range readings {
			g.Go(func() error {
				results[i] = c.processItem(ctx, deviceID, i, raw, location)
				return nil
			})
		}
		_ = g.Wait()
	}

	outcome := BatchOutcome{Results: make([]ItemResult, 0, len(readings))}
	rejected := 0
	for _, res := range results {
		if res.err != nil {
			outcome.Errors = append(outcome.Errors, *res.err)
			if res.rejected {
				rejected++
			}
			continue
		}
		outcome.Results = append(outcome.Results, res.ok)
	}
	outcome.Processed = len(outcome.Results)
	outcome.Failed = len(outcome.Errors)
	c.addReadings(metrics.ResultSuccess, outcome.Processed)
	c.addReadings(metrics.ResultRejected, rejected)
	c.addReadings(metrics.ResultError, outcome.Failed-rejected)
	return outcome, nil
}

type itemOutcome struct {
	ok       ItemResult
	err      *ItemError
	rejected bool
}

// failed builds the outcome of a failed item. Validation failures count as
// rejected, everything else as an error.
func failed(index int, raw json.RawMessage, err error) itemOutcome {
	return itemOutcome{
		err:      itemFailure(index, raw, err),
		rejected: errors.Is(err, telemetry.ErrValidation),
	}
}

func (c *Coordinator) processItem(ctx context.Context, deviceID string, index int, raw json.RawMessage, location string) (out itemOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("bulk item panic", "deviceId", deviceID, "index", index, "panic", rec)
			out = failed(index, raw, fmt.Errorf("%w: %v", ErrPanic, rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failed(index, raw, fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
	}

	var reading telemetry.Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return failed(index, raw, decodeFailure(err))
	}

	record, err := c.normalizer.Normalize(reading, deviceID, location)
	if err != nil {
		return failed(index, raw, err)
	}
	id, err := c.write(ctx, record, index)
	if err != nil {
		return failed(index, raw, err)
	}
	return itemOutcome{ok: ItemResult{
		Index:      index,
		DocumentID: id,
		SensorType: record.SensorType,
		Value:      record.Value,
	}}
}

func (c *Coordinator) write(ctx context.Context, record telemetry.Record, index int) (string, error) {
	writeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	start := time.Now()
	id, err := c.store.CreateRecord(writeCtx, record)
	if err != nil {
		classified := classifyStoreError(err)
		metrics.ObserveStoreWrite(c.backend, metrics.ResultError, time.Since(start))
		c.logger.Error("store write failed",
			"deviceId", record.DeviceID,
			"sensorType", record.SensorType,
			"index", index,
			"timestamp", record.Timestamp,
			"class", ErrorCode(classified),
			"error", err,
		)
		return "", classified
	}
	metrics.ObserveStoreWrite(c.backend, metrics.ResultSuccess, time.Since(start))
	return id, nil
}

func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, telemetry.ErrStoreUnauthorized):
		return fmt.Errorf("%w: %w", ErrBackendAuth, err)
	case errors.Is(err, telemetry.ErrStoreNotFound),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrIngestion, err)
	}
}

// ErrorCode maps an ingest error to its response code.
func ErrorCode(err error) string {
	var verr *telemetry.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Code
	case errors.Is(err, ErrBackendAuth):
		return CodeBackendAuth
	case errors.Is(err, ErrBackendUnavailable):
		return CodeBackendUnavailable
	case errors.Is(err, ErrIngestion):
		return CodeIngestion
	default:
		return CodeInternal
	}
}

// ErrorMessage returns a caller-safe description of an ingest error.
// Store details stay in the logs.
func ErrorMessage(err error) string {
	var verr *telemetry.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrBackendAuth):
		return "storage backend rejected credentials"
	case errors.Is(err, ErrBackendUnavailable):
		return "storage backend unavailable"
	case errors.Is(err, ErrIngestion):
		return "failed to store reading"
	default:
		return "internal server error"
	}
}

// decodeFailure describes why a bulk item could not be decoded as a reading.
func decodeFailure(err error) *telemetry.ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return telemetry.NewValidationError(telemetry.CodeInvalidReading, typeErr.Field,
			"must be a %s, got %s", typeErr.Type, typeErr.Value)
	}
	return telemetry.NewValidationError(telemetry.CodeInvalidReading, "", "reading must be a JSON object")
}

func itemFailure(index int, raw json.RawMessage, err error) *ItemError {
	reading := raw
	if !json.Valid(reading) {
		reading = json.RawMessage("null")
	}
	item := &ItemError{Index: index, Reading: reading, Code: ErrorCode(err), Error: ErrorMessage(err)}
	var verr *telemetry.ValidationError
	if errors.As(err, &verr) {
		item.Field = verr.Field
	}
	return item
}
