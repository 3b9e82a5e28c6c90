package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(WithClock(fixedClock{now: testNow}))
}

func raw(value string) json.RawMessage { return json.RawMessage(value) }

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
	require.Equal(t, code, verr.Code)
	require.ErrorIs(t, err, ErrValidation)
}

func TestNormalizeDefaults(t *testing.T) {
	n := newTestNormalizer()
	record, err := n.Normalize(Reading{
		DeviceID:   "esp-1",
		SensorType: "temperature",
		Value:      raw("21.5"),
	}, "esp-1", "")
	require.NoError(t, err)

	require.Equal(t, "esp-1", record.DeviceID)
	require.Equal(t, SensorTemperature, record.SensorType)
	require.Equal(t, 21.5, record.Value)
	require.Equal(t, "°C", record.Unit)
	require.Equal(t, testNow, record.Timestamp)
	require.Equal(t, testNow, record.IngestedAt)
	require.Equal(t, DefaultLocation, record.Location)
	require.False(t, record.IsAnomalous)
	require.NotNil(t, record.Metadata)
	require.Empty(t, record.Metadata)
}

func TestNormalizeCallerFieldsWin(t *testing.T) {
	n := newTestNormalizer()
	record, err := n.Normalize(Reading{
		SensorType: "pressure",
		Value:      raw(`"3.2"`),
		Unit:       "psi",
		Timestamp:  raw(`"2024-04-30T10:15:00+02:00"`),
		Location:   "pump-room",
		Metadata:   raw(`{"firmware":"1.2.0"}`),
	}, "esp-1", "basement")
	require.NoError(t, err)

	require.Equal(t, "esp-1", record.DeviceID)
	require.Equal(t, 3.2, record.Value)
	require.Equal(t, "psi", record.Unit)
	require.Equal(t, time.Date(2024, 4, 30, 8, 15, 0, 0, time.UTC), record.Timestamp)
	require.Equal(t, "pump-room", record.Location)
	require.Equal(t, "1.2.0", record.Metadata["firmware"])
	require.Equal(t, testNow, record.IngestedAt)
}

func TestNormalizeRequestLocationFallback(t *testing.T) {
	n := newTestNormalizer()
	record, err := n.Normalize(Reading{SensorType: "flow", Value: raw("4")}, "esp-1", "basement")
	require.NoError(t, err)
	require.Equal(t, "basement", record.Location)
}

func TestNormalizeEpochSeconds(t *testing.T) {
	n := newTestNormalizer()
	record, err := n.Normalize(Reading{
		SensorType: "humidity",
		Value:      raw("55"),
		Timestamp:  raw("1714564800.5"),
	}, "esp-1", "")
	require.NoError(t, err)
	require.Equal(t, time.Unix(1714564800, int64(500*time.Millisecond)).UTC(), record.Timestamp)
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name    string
		reading Reading
		code    string
	}{
		{"unknown sensor", Reading{SensorType: "radiation", Value: raw("1")}, CodeInvalidSensorType},
		{"missing sensor", Reading{Value: raw("1")}, CodeInvalidSensorType},
		{"missing value", Reading{SensorType: "ph"}, CodeInvalidValue},
		{"null value", Reading{SensorType: "ph", Value: raw("null")}, CodeInvalidValue},
		{"text value", Reading{SensorType: "ph", Value: raw(`"not-a-number"`)}, CodeInvalidValue},
		{"nan value", Reading{SensorType: "ph", Value: raw(`"NaN"`)}, CodeInvalidValue},
		{"bool value", Reading{SensorType: "ph", Value: raw("true")}, CodeInvalidValue},
		{"too low", Reading{SensorType: "ph", Value: raw("-1000.01")}, CodeInvalidValue},
		{"too high", Reading{SensorType: "ph", Value: raw("10000.5")}, CodeInvalidValue},
		{"other device", Reading{DeviceID: "esp-2", SensorType: "ph", Value: raw("7")}, CodeDeviceIDMismatch},
		{"bad iso", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw(`"yesterday"`)}, CodeInvalidTimestamp},
		{"negative epoch", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw("-5")}, CodeInvalidTimestamp},
		{"overflowing epoch", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw("1e19")}, CodeInvalidTimestamp},
		{"huge epoch", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw("1e300")}, CodeInvalidTimestamp},
		{"millisecond epoch", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw("1715000000000")}, CodeInvalidTimestamp},
		{"object timestamp", Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw(`{}`)}, CodeInvalidTimestamp},
		{"array metadata", Reading{SensorType: "ph", Value: raw("7"), Metadata: raw(`[1]`)}, CodeInvalidMetadata},
	}
	n := newTestNormalizer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.reading, "esp-1", "")
			requireCode(t, err, tc.code)
		})
	}
}

func TestNormalizeSensorTypeCheckedFirst(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(Reading{DeviceID: "esp-2", SensorType: "gamma", Value: raw(`"x"`)}, "esp-1", "")
	requireCode(t, err, CodeInvalidSensorType)
}

func TestNormalizeMismatchIsDeviceError(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(Reading{DeviceID: "esp-2", SensorType: "ph", Value: raw("7")}, "esp-1", "")
	require.ErrorIs(t, err, ErrDeviceIDMismatch)
}

func TestNormalizeCustomBounds(t *testing.T) {
	n := NewNormalizer(WithClock(fixedClock{now: testNow}), WithValueBounds(0, 14))
	_, err := n.Normalize(Reading{SensorType: "ph", Value: raw("15")}, "esp-1", "")
	requireCode(t, err, CodeInvalidValue)

	record, err := n.Normalize(Reading{SensorType: "ph", Value: raw("14")}, "esp-1", "")
	require.NoError(t, err)
	require.Equal(t, 14.0, record.Value)
}

func TestNormalizeLatestEpochStillSerializes(t *testing.T) {
	n := newTestNormalizer()
	record, err := n.Normalize(Reading{SensorType: "ph", Value: raw("7"), Timestamp: raw("253402300799")}, "esp-1", "")
	require.NoError(t, err)
	require.Equal(t, 9999, record.Timestamp.Year())

	_, err = json.Marshal(record)
	require.NoError(t, err)
}
