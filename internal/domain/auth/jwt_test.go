package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig(testSecret))

	token, expiresAt, err := svc.GenerateAccessToken("picker-7", []string{"picker"}, []string{PermAllocate}, false)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, time.Minute)

	user, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "picker-7", user.UserID)
	assert.Equal(t, []string{PermAllocate}, user.Permissions)
	assert.False(t, user.IsAdmin)
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig(testSecret))

	other := NewJWTService(DefaultJWTConfig("ffffffffffffffffffffffffffffffff"))
	token, _, err := other.GenerateAccessToken("u1", nil, nil, true)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "wrong secret")

	cfg := DefaultJWTConfig(testSecret)
	cfg.Issuer = "someone-else"
	token, _, err = NewJWTService(cfg).GenerateAccessToken("u1", nil, nil, true)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "wrong issuer")

	expired := DefaultJWTConfig(testSecret)
	expired.AccessTokenTTL = -time.Minute
	token, _, err = NewJWTService(expired).GenerateAccessToken("u1", nil, nil, false)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}
