package auth

import (
	"testing"
	"time"

	"schoolpay/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: time.Minute, Issuer: "schoolpay"}
	tok, err := GenerateAccessToken(cfg, 100, 1, 7, "STUDENT")
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, tok)
	require.NoError(t, err)
	assert.Equal(t, uint(100), claims.UserID)
	assert.Equal(t, uint(1), claims.TenantID)
	assert.Equal(t, uint(7), claims.StudentID)
	assert.Equal(t, "STUDENT", claims.Role)

	_, err = ParseAccessToken(&config.JWTConfig{AccessSecret: "other"}, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredAndTenantless(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: -time.Minute}
	tok, err := GenerateAccessToken(cfg, 1, 1, 0, "ADMIN")
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	cfg.AccessExpiry = time.Minute
	tok, err = GenerateAccessToken(cfg, 1, 0, 0, "ADMIN")
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
