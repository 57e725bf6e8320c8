package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *jwtService {
	t.Helper()
	svc, err := NewJWTService(Config{Secret: testSecret, TTL: time.Hour, Issuer: "account-security"})
	require.NoError(t, err)
	return svc.(*jwtService)
}

var testAccount = &model.Account{ID: 42, Username: "alice", Role: model.RoleAdmin}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, expires, err := svc.GenerateAccessToken(testAccount)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.AccountID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, "42", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestExpiredTokenKeepsClaims(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.GenerateAccessToken(testAccount)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	claims, err := svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	require.NotNil(t, claims)
	assert.Equal(t, "alice", claims.Username)
}

func TestTamperedTokenRejected(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.GenerateAccessToken(testAccount)
	require.NoError(t, err)

	other, err := NewJWTService(Config{Secret: "another-secret-of-32-bytes-long!", TTL: time.Hour, Issuer: "account-security"})
	require.NoError(t, err)

	claims, err := other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongIssuerRejected(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.GenerateAccessToken(testAccount)
	require.NoError(t, err)

	other, err := NewJWTService(Config{Secret: testSecret, TTL: time.Hour, Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewJWTService(Config{Secret: "short"})
	assert.Error(t, err)
}
