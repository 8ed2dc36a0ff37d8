package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	id := uuid.New()

	tok, err := svc.SignAccessToken(id, "+221771234567")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, time.Hour, tok.ExpiresIn)

	claims, err := svc.VerifyToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AccountID)
	assert.Equal(t, "+221771234567", claims.Phone)
}

func TestJWTService_RejectsOtherSecret(t *testing.T) {
	tok, err := NewJWTService("secret", time.Hour).SignAccessToken(uuid.New(), "+221771234567")
	require.NoError(t, err)

	_, err = NewJWTService("other", time.Hour).VerifyToken(tok.Token)
	assert.Error(t, err)
}

func TestJWTService_RejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }
	tok, err := svc.SignAccessToken(uuid.New(), "+221771234567")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyToken(tok.Token)
	assert.Error(t, err)
}
