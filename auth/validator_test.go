package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenHappyPath(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	token := signToken(t, "shared-secret", Claims{
		UserID:   "u-1",
		TenantID: 42,
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", identity.UserID)
	assert.Equal(t, int64(42), identity.TenantID)
	assert.True(t, identity.IsAdmin)
}

func TestValidateTokenWrongSecretRejected(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	token := signToken(t, "other-secret", Claims{TenantID: 1})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateTokenExpiredRejected(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	token := signToken(t, "shared-secret", Claims{
		TenantID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateTokenMissingTenantRejected(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	token := signToken(t, "shared-secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateTokenMalformedRejected(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	_, err := v.ValidateToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateTokenWrongSigningMethodRejected(t *testing.T) {
	v := NewJWTValidator("shared-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
