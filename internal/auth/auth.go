// Package auth verifies the bearer tokens callers present to the service.
//
// Tokens are Ed25519 (EdDSA) JWTs. The service only needs the public key;
// the private key is used by the token command to mint tokens for callers.
package auth

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer and audience of every token.
const (
	Issuer   = "kiko"
	Audience = "kiko"
)

// Claims are the token claims. The subject names the calling system.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates tokens against a public key.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier creates a Verifier for key.
func NewVerifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{publicKey: key}
}

// LoadVerifier reads a PKIX public key PEM file.
func LoadVerifier(path string) (*Verifier, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("auth: decode public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("auth: public key is not Ed25519")
	}
	return NewVerifier(pub), nil
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return v.publicKey, nil
		},
		jwt.WithAudience(Audience),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return claims, nil
}

// Signer mints tokens.
type Signer struct {
	privateKey ed25519.PrivateKey
	ttl        time.Duration
}

// NewSigner creates a Signer whose tokens expire after ttl.
func NewSigner(key ed25519.PrivateKey, ttl time.Duration) *Signer {
	return &Signer{privateKey: key, ttl: ttl}
}

// LoadSigner reads a PKCS#8 private key PEM file.
func LoadSigner(path string, ttl time.Duration) (*Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from a CLI flag
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("auth: decode private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("auth: private key is not Ed25519")
	}
	return NewSigner(priv, ttl), nil
}

// Issue creates a signed token for subject.
func (s *Signer) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	now := time.Now().UTC()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.New().String(),
	}})
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}
