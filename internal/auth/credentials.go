package auth

import (
	"crypto/subtle"
	"errors"
)

// CredentialVerifier checks device secrets derived as prefix + deviceId.
// Nothing is stored: rotating the prefix rotates every device secret.
type CredentialVerifier struct {
	prefix []byte
}

// NewCredentialVerifier constructs a verifier for the configured prefix.
func NewCredentialVerifier(prefix string) (*CredentialVerifier, error) {
	if prefix == "" {
		return nil, errors.New("auth: empty device secret prefix")
	}
	return &CredentialVerifier{prefix: []byte(prefix)}, nil
}

// Verify reports ErrMissingCredentials for empty input and
// ErrInvalidCredentials for any mismatch.
func (v *CredentialVerifier) Verify(deviceID, deviceSecret string) error {
	if deviceID == "" || deviceSecret == "" {
		return ErrMissingCredentials
	}
	expected := make([]byte, 0, len(v.prefix)+len(deviceID))
	expected = append(expected, v.prefix...)
	expected = append(expected, deviceID...)
	if subtle.ConstantTimeCompare([]byte(deviceSecret), expected) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
