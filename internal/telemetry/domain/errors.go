package telemetry

import (
	"errors"
	"fmt"
)

// Validation codes returned to callers.
const (
	CodeInvalidReading    = "INVALID_READING"
	CodeInvalidSensorType = "INVALID_SENSOR_TYPE"
	CodeInvalidValue      = "INVALID_VALUE"
	CodeDeviceIDMismatch  = "DEVICE_ID_MISMATCH"
	CodeInvalidTimestamp  = "INVALID_TIMESTAMP"
	CodeInvalidMetadata   = "INVALID_METADATA"
	CodeInvalidBatchSize  = "INVALID_BATCH_SIZE"
)

var (
	// ErrValidation marks every ValidationError.
	ErrValidation = errors.New("telemetry: validation failed")
	// ErrDeviceIDMismatch is returned when a reading names another device.
	ErrDeviceIDMismatch = errors.New("telemetry: device id mismatch")
	// ErrStoreUnauthorized is wrapped by stores when credentials are rejected.
	ErrStoreUnauthorized = errors.New("telemetry: store unauthorized")
	// ErrStoreNotFound is wrapped by stores when the target collection is missing.
	ErrStoreNotFound = errors.New("telemetry: store collection not found")
)

// ValidationError describes one rejected field of a reading.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// Is reports ErrValidation for all validation errors and ErrDeviceIDMismatch
// for the mismatch code.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrDeviceIDMismatch:
		return e.Code == CodeDeviceIDMismatch
	}
	return false
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
