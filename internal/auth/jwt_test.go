package auth_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfoufcat/slimcircle/internal/auth"
)

func TestJWTRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	require.NoError(t, auth.InitJWTSecret())

	token, err := auth.GenerateJWT(42, "member@example.com")
	require.NoError(t, err)

	parsed, err := auth.VerifyJWT(token)
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, float64(42), claims["user_id"])
	assert.Equal(t, "member@example.com", claims["email"])
}

func TestVerifyJWTRejectsBadTokens(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	require.NoError(t, auth.InitJWTSecret())

	token, err := auth.GenerateJWT(1, "member@example.com")
	require.NoError(t, err)

	_, err = auth.VerifyJWT(token + "x")
	assert.Error(t, err)

	_, err = auth.VerifyJWT("not-a-token")
	assert.Error(t, err)
}

func TestInitJWTSecretRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	assert.Error(t, auth.InitJWTSecret())
}
