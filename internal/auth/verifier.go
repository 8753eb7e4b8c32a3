package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/krystian-wojtas/skydive/internal/config"
)

// Scopes granted by tokens.
const (
	ScopeRead    = "read"
	ScopeControl = "control"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("UNAUTHORIZED")

// Claims holds the verified token claims.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks token signatures and claims.
type Verifier struct {
	method jwt.SigningMethod
	key    interface{}
}

// NewHS256Verifier creates a verifier for tokens signed with secret.
func NewHS256Verifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("HS256 requires a secret")
	}
	return &Verifier{method: jwt.SigningMethodHS256, key: []byte(secret)}, nil
}

// NewRS256Verifier creates a verifier from a PEM encoded RSA public key.
func NewRS256Verifier(pemData []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &Verifier{method: jwt.SigningMethodRS256, key: key}, nil
}

// FromConfig builds the verifier selected by cfg. It returns nil when
// authentication is disabled.
func FromConfig(cfg config.APIConfig) (*Verifier, error) {
	switch {
	case cfg.AuthDisabled:
		return nil, nil
	case cfg.JWTPublicKeyFile != "":
		data, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		return NewRS256Verifier(data)
	default:
		return NewHS256Verifier(cfg.JWTSecret)
	}
}

// VerifyToken parses and validates a token.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	if !validScopes(claims.Scopes) {
		return nil, fmt.Errorf("%w: invalid scopes %v", ErrInvalidToken, claims.Scopes)
	}
	return claims, nil
}

func validScopes(scopes []string) bool {
	for _, s := range scopes {
		if s != ScopeRead && s != ScopeControl {
			return false
		}
	}
	return len(scopes) > 0
}
