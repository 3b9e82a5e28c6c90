package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// Default value bounds applied to every reading.
const (
	DefaultMinValue = -1000
	DefaultMaxValue = 10000
)

// Normalizer turns raw readings into canonical records.
type Normalizer struct {
	minValue float64
	maxValue float64
	clock    Clock
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithValueBounds overrides the accepted value range. Inverted ranges are ignored.
func WithValueBounds(lower, upper float64) NormalizerOption {
	return func(n *Normalizer) {
		if lower <= upper {
			n.minValue = lower
			n.maxValue = upper
		}
	}
}

// WithClock overrides the clock used for ingestedAt and timestamp defaults.
func WithClock(clock Clock) NormalizerOption {
	return func(n *Normalizer) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// NewNormalizer constructs a Normalizer with the default bounds.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{minValue: DefaultMinValue, maxValue: DefaultMaxValue, clock: SystemClock{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates a reading against the device bound to the caller and
// builds the record to persist. Checks run in a fixed order so the first
// failing rule decides the error code.
func (n *Normalizer) Normalize(reading Reading, boundDeviceID, requestLocation string) (Record, error) {
	sensorType, ok := ParseSensorType(reading.SensorType)
	if !ok {
		return Record{}, NewValidationError(CodeInvalidSensorType, "sensorType",
			"must be one of %s", joinSensorTypes())
	}

	value, err := n.parseValue(reading.Value)
	if err != nil {
		return Record{}, err
	}

	if reading.DeviceID != "" && reading.DeviceID != boundDeviceID {
		return Record{}, NewValidationError(CodeDeviceIDMismatch, "deviceId",
			"does not match the authenticated device")
	}

	now := n.clock.Now().UTC()
	ts, err := parseTimestamp(reading.Timestamp, now)
	if err != nil {
		return Record{}, err
	}

	metadata, err := parseMetadata(reading.Metadata)
	if err != nil {
		return Record{}, err
	}

	unit := strings.TrimSpace(reading.Unit)
	if unit == "" {
		unit = ResolveUnit(sensorType)
	}

	location := firstNonEmpty(reading.Location, requestLocation, DefaultLocation)

	return Record{
		DeviceID:    boundDeviceID,
		SensorType:  sensorType,
		Value:       value,
		Unit:        unit,
		Timestamp:   ts,
		Location:    location,
		IsAnomalous: false,
		IngestedAt:  now,
		Metadata:    metadata,
	}, nil
}

func (n *Normalizer) parseValue(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, NewValidationError(CodeInvalidValue, "value", "is required")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, NewValidationError(CodeInvalidValue, "value", "must be a number")
		}
		text = strings.TrimSpace(text)
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, NewValidationError(CodeInvalidValue, "value", "must be a finite number")
	}
	if value < n.minValue || value > n.maxValue {
		return 0, NewValidationError(CodeInvalidValue, "value",
			"must be between %g and %g", n.minValue, n.maxValue)
	}
	return value, nil
}

// maxEpochSeconds is 9999-12-31T23:59:59Z, the last instant RFC 3339 can format.
const maxEpochSeconds = 253402300799

// parseTimestamp accepts Unix epoch seconds or an ISO-8601 string.
// Missing timestamps default to now.
func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now, nil
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, NewValidationError(CodeInvalidTimestamp, "timestamp", "must be an ISO-8601 string or epoch seconds")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return now, nil
		}
		parsed, err := iso8601.ParseString(text)
		if err != nil {
			return time.Time{}, NewValidationError(CodeInvalidTimestamp, "timestamp", "is not a valid ISO-8601 instant")
		}
		return parsed.UTC(), nil
	case '{', '[', 't', 'f':
		return time.Time{}, NewValidationError(CodeInvalidTimestamp, "timestamp", "must be an ISO-8601 string or epoch seconds")
	}

	seconds, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return time.Time{}, NewValidationError(CodeInvalidTimestamp, "timestamp", "must be non-negative epoch seconds")
	}
	if seconds > maxEpochSeconds {
		return time.Time{}, NewValidationError(CodeInvalidTimestamp, "timestamp", "must be epoch seconds no later than 9999-12-31T23:59:59Z")
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}

func parseMetadata(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] != '{' {
		return nil, NewValidationError(CodeInvalidMetadata, "metadata", "must be an object")
	}
	metadata := map[string]any{}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, NewValidationError(CodeInvalidMetadata, "metadata", "must be an object")
	}
	return metadata, nil
}

func joinSensorTypes() string {
	types := SensorTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
