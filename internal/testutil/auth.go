package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"cvforge/internal/auth"
)

var (
	keyOnce sync.Once
	keyPEM  []byte
	pubPEM  []byte
	keyErr  error
)

// NewAuthService returns an auth service over a key pair generated once per test binary.
func NewAuthService(t testing.TB) *auth.AuthService {
	t.Helper()
	keyOnce.Do(func() {
		var key *rsa.PrivateKey
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		var der []byte
		der, keyErr = x509.MarshalPKIXPublicKey(&key.PublicKey)
		pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	})
	if keyErr != nil {
		t.Fatalf("generate rsa key: %v", keyErr)
	}

	svc, err := auth.NewAuthService(keyPEM, pubPEM, 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return svc
}

// BearerFor returns an Authorization header value for userID.
func BearerFor(t testing.TB, svc *auth.AuthService, userID uint) string {
	t.Helper()
	pair, err := svc.GenerateTokenPair(userID)
	if err != nil {
		t.Fatalf("token pair: %v", err)
	}
	return "Bearer " + pair.AccessToken
}
