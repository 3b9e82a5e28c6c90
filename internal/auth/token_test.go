package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testPrefix = "sensor-secret-"

var testSecret = []byte("test-secret")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func mustService(t *testing.T, clock Clock, opts ...TokenOption) *TokenService {
	t.Helper()
	creds, err := NewCredentialVerifier(testPrefix)
	require.NoError(t, err)
	opts = append(opts, WithTokenClock(clock))
	svc, err := NewTokenService(creds, StaticKey(testSecret), opts...)
	require.NoError(t, err)
	return svc
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := mustService(t, clock)

	for _, deviceID := range []string{"esp-1", "esp-2", "pump/17", "ä-sensor"} {
		token, err := svc.Issue(deviceID, testPrefix+deviceID)
		require.NoError(t, err)
		require.Equal(t, DefaultTokenTTL, token.ExpiresIn())

		identity, err := svc.Verify(token.Value)
		require.NoError(t, err)
		require.Equal(t, deviceID, identity.DeviceID)
		require.True(t, identity.ExpiresAt.Equal(clock.now.Add(DefaultTokenTTL)))
	}
}

func TestIssueRejectsBadCredentials(t *testing.T) {
	svc := mustService(t, &fakeClock{now: time.Now()})

	_, err := svc.Issue("esp-1", testPrefix+"esp-2")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Issue("esp-1", "esp-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Issue("esp-1", testPrefix+"esp-1x")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Issue("", testPrefix)
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = svc.Issue("esp-1", "")
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := mustService(t, clock, WithTokenTTL(time.Minute))

	token, err := svc.Issue("esp-1", testPrefix+"esp-1")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = svc.Verify(token.Value)
	require.NoError(t, err)

	for _, step := range []time.Duration{2 * time.Second, time.Hour, 24 * time.Hour} {
		clock.Advance(step)
		_, err = svc.Verify(token.Value)
		require.ErrorIs(t, err, ErrInvalidToken)
		require.NotErrorIs(t, err, ErrMissingToken)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := mustService(t, clock)
	token, err := svc.Issue("esp-1", testPrefix+"esp-1")
	require.NoError(t, err)

	creds, err := NewCredentialVerifier(testPrefix)
	require.NoError(t, err)
	other, err := NewTokenService(creds, StaticKey("other-secret"), WithTokenClock(clock))
	require.NoError(t, err)

	_, err = other.Verify(token.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingExpiryAndAlgNone(t *testing.T) {
	svc := mustService(t, &fakeClock{now: time.Now()})

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{DeviceID: "esp-1", Type: TokenTypeDevice})
	signed, err := noExp.SignedString(testSecret)
	require.NoError(t, err)
	_, err = svc.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		DeviceID:         "esp-1",
		Type:             TokenTypeDevice,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingToken(t *testing.T) {
	svc := mustService(t, &fakeClock{now: time.Now()})
	_, err := svc.Verify("")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestNewTokenServiceValidation(t *testing.T) {
	_, err := NewCredentialVerifier("")
	require.Error(t, err)

	creds, err := NewCredentialVerifier(testPrefix)
	require.NoError(t, err)
	_, err = NewTokenService(creds, StaticKey(nil))
	require.Error(t, err)
	_, err = NewTokenService(nil, StaticKey(testSecret))
	require.Error(t, err)
}
