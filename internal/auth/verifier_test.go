package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/krystian-wojtas/skydive/internal/config"
)

const testSecret = "test-secret"

func hsToken(t *testing.T, secret, sub string, scopes []string, exp time.Time) string {
	t.Helper()
	claims := &Claims{Scopes: scopes}
	claims.Subject = sub
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func TestHS256Verifier(t *testing.T) {
	v, err := NewHS256Verifier(testSecret)
	if err != nil {
		t.Fatalf("NewHS256Verifier failed: %v", err)
	}
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid read", hsToken(t, testSecret, "pilot-1", []string{ScopeRead}, future), false},
		{"valid control", hsToken(t, testSecret, "pilot-1", []string{ScopeRead, ScopeControl}, future), false},
		{"wrong secret", hsToken(t, "other", "pilot-1", []string{ScopeRead}, future), true},
		{"expired", hsToken(t, testSecret, "pilot-1", []string{ScopeRead}, time.Now().Add(-time.Minute)), true},
		{"no subject", hsToken(t, testSecret, "", []string{ScopeRead}, future), true},
		{"no scopes", hsToken(t, testSecret, "pilot-1", nil, future), true},
		{"unknown scope", hsToken(t, testSecret, "pilot-1", []string{"admin"}, future), true},
		{"empty", "", true},
		{"garbage", "not.a.token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.VerifyToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("Expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyToken failed: %v", err)
			}
			if claims.Subject != "pilot-1" {
				t.Errorf("Expected subject pilot-1, got %s", claims.Subject)
			}
		})
	}
}

func TestHS256RequiresSecret(t *testing.T) {
	if _, err := NewHS256Verifier(""); err == nil {
		t.Error("Expected an error for an empty secret")
	}
}

func TestRS256Verifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pemData, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	v, err := FromConfig(config.APIConfig{JWTPublicKeyFile: path})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	claims := &Claims{Scopes: []string{ScopeControl}}
	claims.Subject = "ops"
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	got, err := v.VerifyToken(signed)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if !got.HasScope(ScopeControl) || got.HasScope(ScopeRead) {
		t.Errorf("Expected only the control scope, got %v", got.Scopes)
	}

	// An HS256 token must not pass an RS256 verifier
	hs := hsToken(t, testSecret, "ops", []string{ScopeRead}, time.Now().Add(time.Hour))
	if _, err := v.VerifyToken(hs); err == nil {
		t.Error("Expected HS256 token to be rejected")
	}
}

func TestFromConfig(t *testing.T) {
	v, err := FromConfig(config.APIConfig{AuthDisabled: true, JWTSecret: "ignored"})
	if err != nil || v != nil {
		t.Errorf("Expected nil verifier when disabled, got %v, %v", v, err)
	}

	v, err = FromConfig(config.APIConfig{JWTSecret: testSecret})
	if err != nil || v == nil {
		t.Fatalf("Expected HS256 verifier, got %v, %v", v, err)
	}

	if _, err := FromConfig(config.APIConfig{JWTPublicKeyFile: "/nonexistent.pem"}); err == nil {
		t.Error("Expected an error for a missing key file")
	}
}
