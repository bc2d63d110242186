package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestSharedSecretValidatorAcceptsValidToken(t *testing.T) {
	v := NewSharedSecretValidator("correct-horse-battery-staple")
	tokenString := signHS256(t, "correct-horse-battery-staple", &Claims{
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.PlayerID())
	assert.True(t, claims.IsAdmin)
}

func TestSharedSecretValidatorRejectsWrongSecret(t *testing.T) {
	v := NewSharedSecretValidator("correct-horse-battery-staple")
	tokenString := signHS256(t, "wrong-secret", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})

	_, err := v.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestSharedSecretValidatorRejectsExpiredToken(t *testing.T) {
	v := NewSharedSecretValidator("correct-horse-battery-staple")
	tokenString := signHS256(t, "correct-horse-battery-staple", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestSharedSecretValidatorRejectsAlgorithmConfusion(t *testing.T) {
	v := NewSharedSecretValidator("correct-horse-battery-staple")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(tokenString)
	assert.Error(t, err)
}
