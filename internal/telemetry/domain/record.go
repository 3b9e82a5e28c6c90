package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultLocation is used when neither the reading nor the request names a location.
const DefaultLocation = "unknown"

// Reading is a caller-supplied measurement before normalization.
// Value and Timestamp stay raw because devices send both numbers and strings.
type Reading struct {
	DeviceID   string          `json:"deviceId,omitempty"`
	SensorType string          `json:"sensorType"`
	Value      json.RawMessage `json:"value,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	Location   string          `json:"location,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Record is the canonical telemetry document written to the store.
type Record struct {
	DeviceID    string         `json:"deviceId"`
	SensorType  SensorType     `json:"sensorType"`
	Value       float64        `json:"value"`
	Unit        string         `json:"unit"`
	Timestamp   time.Time      `json:"timestamp"`
	Location    string         `json:"location"`
	IsAnomalous bool           `json:"isAnomalous"`
	IngestedAt  time.Time      `json:"ingestedAt"`
	Metadata    map[string]any `json:"metadata"`
}

// Store persists telemetry records. Implementations return the document id.
// Failures should wrap ErrStoreUnauthorized or ErrStoreNotFound when the
// backend reports those conditions.
type Store interface {
	CreateRecord(ctx context.Context, record Record) (string, error)
}

// Clock provides time for normalization.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
