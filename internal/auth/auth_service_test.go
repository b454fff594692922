package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService builds a service over a throwaway key pair.
func newTestService(t *testing.T, accessTTL time.Duration) *AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	svc, err := NewAuthService(privPEM, pubPEM, accessTTL, time.Hour)
	require.NoError(t, err)
	return svc
}

func TestTokenPairRoundTrip(t *testing.T) {
	svc := newTestService(t, time.Minute)

	pair, err := svc.GenerateTokenPair(42)
	require.NoError(t, err)
	assert.EqualValues(t, 60, pair.ExpiresIn)

	userID, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.EqualValues(t, 42, userID)

	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims, err := svc.ValidateToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.TokenType)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newTestService(t, time.Minute)
	other := newTestService(t, time.Minute)

	foreign, err := other.GenerateTokenPair(1)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	pair, err := svc.GenerateTokenPair(1)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong horse", hash))
}
