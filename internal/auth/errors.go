package auth

import "errors"

var (
	ErrMissingCredentials = errors.New("auth: missing device credentials")
	ErrInvalidCredentials = errors.New("auth: invalid device credentials")
	ErrMissingToken       = errors.New("auth: missing token")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
)
