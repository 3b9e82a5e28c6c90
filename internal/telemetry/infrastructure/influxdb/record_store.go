package influxdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

const defaultMeasurement = "telemetry_records"

// PointWriter is the subset of api.WriteAPIBlocking the store needs.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// RecordStore writes telemetry records as points of one measurement.
type RecordStore struct {
	writer      PointWriter
	measurement string
}

// NewRecordStore constructs a store. An empty measurement uses the default.
func NewRecordStore(writer PointWriter, measurement string) (*RecordStore, error) {
	if writer == nil {
		return nil, errors.New("influxdb store: nil writer")
	}
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &RecordStore{writer: writer, measurement: measurement}, nil
}

// CreateRecord writes one point. The generated id is stored as a field
// because points have no primary key of their own.
func (s *RecordStore) CreateRecord(ctx context.Context, record telemetry.Record) (string, error) {
	id := uuid.NewString()
	if err := s.writer.WritePoint(ctx, s.buildPoint(id, record)); err != nil {
		return "", classify(err)
	}
	return id, nil
}

func (s *RecordStore) buildPoint(id string, record telemetry.Record) *write.Point {
	tags := map[string]string{
		"deviceId":   record.DeviceID,
		"sensorType": string(record.SensorType),
		"location":   record.Location,
		"unit":       record.Unit,
	}
	fields := map[string]interface{}{
		"documentId":  id,
		"value":       record.Value,
		"isAnomalous": record.IsAnomalous,
		"ingestedAt":  record.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range record.Metadata {
		if fv, ok := metadataField(v); ok {
			fields["meta_"+sanitizeFieldKey(k)] = fv
		}
	}
	return write.NewPoint(s.measurement, tags, fields, record.Timestamp.UTC())
}

func metadataField(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case float64, bool, string:
		return x, true
	case nil:
		return nil, false
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, false
		}
		return string(b), true
	}
}

var fieldKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeFieldKey(k string) string {
	k = fieldKeyRe.ReplaceAllString(strings.TrimSpace(k), "_")
	k = strings.Trim(k, "_")
	if k == "" {
		return "field"
	}
	return k
}

func classify(err error) error {
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", telemetry.ErrStoreUnauthorized, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", telemetry.ErrStoreNotFound, err)
		}
	}
	return fmt.Errorf("influxdb store: write point: %w", err)
}
