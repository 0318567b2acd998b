package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret)
	signed := signHS256(t, secret, validClaims())

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestUserIDFromAuthHeaderMissing(t *testing.T) {
	auth := NewLocalAuth([]byte("test-secret"))

	_, err := auth.UserIDFromAuthHeader("")
	assert.ErrorIs(t, err, errMissingAuthorization)

	_, err = auth.UserIDFromAuthHeader("Basic abc")
	assert.ErrorIs(t, err, errBadAuthorization)
}

func TestUserIDRejectsWrongSecret(t *testing.T) {
	auth := NewLocalAuth([]byte("right"))
	signed := signHS256(t, []byte("wrong"), validClaims())

	_, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	assert.Error(t, err)
}

func TestUserIDRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret)
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	signed := signHS256(t, secret, claims)

	_, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	assert.Error(t, err)
}

func TestUserIDRejectsMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret)
	claims := validClaims()
	delete(claims, "sub")
	signed := signHS256(t, secret, claims)

	_, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	assert.Error(t, err)
}
