package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenTypeDevice discriminates device tokens from any other JWT signed
	// with the same key.
	TokenTypeDevice = "device"
	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = 15 * time.Minute
)

// Claims represents JWT claims used by this service.
type Claims struct {
	DeviceID string `json:"deviceId"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// KeySource supplies the HMAC signing key.
type KeySource interface {
	SigningKey() []byte
}

// StaticKey is a KeySource backed by a fixed secret.
type StaticKey []byte

// SigningKey returns the secret.
func (k StaticKey) SigningKey() []byte { return k }

// Clock provides time for token issuance and expiry checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Token is an issued bearer token.
type Token struct {
	Value     string
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the token lifetime.
func (t Token) ExpiresIn() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Identity is the verified caller bound to a token.
type Identity struct {
	DeviceID  string
	ExpiresAt time.Time
}

// TokenService issues and verifies device bearer tokens. Verification is a
// pure signature and expiry check; there is no server-side session state.
type TokenService struct {
	credentials *CredentialVerifier
	keys        KeySource
	clock       Clock
	ttl         time.Duration
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenTTL overrides the default token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTokenClock overrides the clock.
func WithTokenClock(clock Clock) TokenOption {
	return func(s *TokenService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewTokenService constructs a token service.
func NewTokenService(credentials *CredentialVerifier, keys KeySource, opts ...TokenOption) (*TokenService, error) {
	if credentials == nil {
		return nil, errors.New("auth: nil credential verifier")
	}
	if keys == nil || len(keys.SigningKey()) == 0 {
		return nil, errors.New("auth: empty signing key")
	}
	s := &TokenService{credentials: credentials, keys: keys, clock: systemClock{}, ttl: DefaultTokenTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue checks the device credential and signs a token bound to deviceID.
func (s *TokenService) Issue(deviceID, deviceSecret string) (Token, error) {
	if err := s.credentials.Verify(deviceID, deviceSecret); err != nil {
		return Token{}, err
	}

	issuedAt := s.clock.Now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)
	claims := Claims{
		DeviceID: deviceID,
		Type:     TokenTypeDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.keys.SigningKey())
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Value: signed, DeviceID: deviceID, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// Verify validates a bearer token. Every signature, algorithm, type or expiry
// failure is reported as ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return s.keys.SigningKey(), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Type != TokenTypeDevice {
		return Identity{}, fmt.Errorf("%w: unexpected token type", ErrInvalidToken)
	}
	if claims.DeviceID == "" {
		return Identity{}, fmt.Errorf("%w: missing deviceId", ErrInvalidToken)
	}
	return Identity{DeviceID: claims.DeviceID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
