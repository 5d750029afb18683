package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":           "5b7c1c1e-8f43-4a53-9d55-0a8b1e0c9f10",
		"email":         "teacher@example.com",
		"aud":           "authenticated",
		"role":          "authenticated",
		"exp":           time.Now().Add(time.Hour).Unix(),
		"user_metadata": map[string]any{"display_name": " Ms. Frizzle "},
	}
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	id, err := v.Verify(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "5b7c1c1e-8f43-4a53-9d55-0a8b1e0c9f10", id.UserID)
	assert.Equal(t, "teacher@example.com", id.Email)
	assert.Equal(t, "Ms. Frizzle", id.DisplayName)
}

func TestJWTVerifierRejects(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := baseClaims()
	delete(noExp, "exp")

	anon := baseClaims()
	anon["role"] = "anon"

	wrongAud := baseClaims()
	wrongAud["aud"] = "someone-else"

	noSub := baseClaims()
	delete(noSub, "sub")

	tokens := map[string]string{
		"expired":      sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no exp":       sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExp),
		"anon role":    sign(t, jwt.SigningMethodHS256, []byte(testSecret), anon),
		"wrong aud":    sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte(testSecret), noSub),
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-123"), baseClaims()),
		"hs512":        sign(t, jwt.SigningMethodHS512, []byte(testSecret), baseClaims()),
		"garbage":      "not.a.jwt",
	}
	for name, tok := range tokens {
		_, err := v.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
