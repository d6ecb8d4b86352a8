// internal/utils/jwt_test.go
package utils

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/models"
)

func TestAccessTokenCarriesRole(t *testing.T) {
	SetJWTSecret("jwt-test-secret")
	id := uuid.New()

	token, err := GenerateJWT(id, "arbiter-1", models.RoleArbiter, 1)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.UserID)
	assert.Equal(t, "arbiter-1", claims.Username)
	assert.Equal(t, models.RoleArbiter, claims.Role)
}

func TestGenerateJWTRejectsUnassignableRoles(t *testing.T) {
	SetJWTSecret("jwt-test-secret")

	for _, role := range []models.Role{models.RoleSystem, "root", ""} {
		_, err := GenerateJWT(uuid.New(), "someone", role, 1)
		assert.True(t, errors.Is(err, ErrInvalidRole), "role %q", role)
	}
}

func TestValidateJWTRejectsForgedClaims(t *testing.T) {
	SetJWTSecret("jwt-test-secret")
	id := uuid.New()

	access := func(mutate func(c *JWTClaims)) string {
		c := JWTClaims{
			UserID:           id.String(),
			Username:         "someone",
			Role:             models.RoleUser,
			Use:              tokenUseAccess,
			RegisteredClaims: registered(id, 1),
		}
		mutate(&c)
		token, err := sign(c)
		require.NoError(t, err)
		return token
	}

	_, err := ValidateJWT(access(func(c *JWTClaims) { c.Role = "superuser" }))
	assert.True(t, errors.Is(err, ErrInvalidRole))
	_, err = ValidateJWT(access(func(c *JWTClaims) { c.Role = models.RoleSystem }))
	assert.True(t, errors.Is(err, ErrInvalidRole))

	_, err = ValidateJWT(access(func(c *JWTClaims) { c.Issuer = "elsewhere" }))
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = ValidateJWT(access(func(c *JWTClaims) { c.UserID = "not-a-uuid" }))
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = ValidateJWT(access(func(c *JWTClaims) { c.Subject = uuid.NewString() }))
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = ValidateJWT(access(func(c *JWTClaims) {}))
	assert.NoError(t, err)
}

func TestTokenUsesDoNotCross(t *testing.T) {
	SetJWTSecret("jwt-test-secret")
	id := uuid.New()

	access, err := GenerateJWT(id, "someone", models.RoleUser, 1)
	require.NoError(t, err)
	refresh, err := GenerateRefreshToken(id, 24)
	require.NoError(t, err)

	subject, err := ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, id.String(), subject)

	_, err = ValidateRefreshToken(access)
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = ValidateJWT(refresh)
	assert.Error(t, err)
}

func TestValidateJWTRejectsBadSignatureAndExpiry(t *testing.T) {
	SetJWTSecret("jwt-test-secret")
	token, err := GenerateJWT(uuid.New(), "someone", models.RoleAdmin, 1)
	require.NoError(t, err)

	SetJWTSecret("rotated-secret")
	_, err = ValidateJWT(token)
	assert.Error(t, err)

	expired, err := GenerateJWT(uuid.New(), "someone", models.RoleAdmin, -1)
	require.NoError(t, err)
	_, err = ValidateJWT(expired)
	assert.Error(t, err)
}
