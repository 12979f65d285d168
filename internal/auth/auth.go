// Package auth provides the relay's member identity: an RSA key paired
// with a DAO member address, used to mint the short-lived signed tokens
// carried by authenticate frames.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity holds the member address and private key used to sign tokens.
type Identity struct {
	MemberAddress string          // 0x-prefixed address the gateway knows us by
	PrivateKey    *rsa.PrivateKey // RSA key registered for that member
	TokenTTL      time.Duration   // validity window per minted token
}

// LoadIdentity loads an identity from a member address and private key file path.
func LoadIdentity(memberAddress, privateKeyPath string, tokenTTL time.Duration) (*Identity, error) {
	if memberAddress == "" {
		return nil, fmt.Errorf("member address is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}
	if tokenTTL <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %v", tokenTTL)
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Identity{
		MemberAddress: memberAddress,
		PrivateKey:    privateKey,
		TokenTTL:      tokenTTL,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// MintToken signs a fresh RS256 token for the member. The subject is the
// member address and each token carries a unique jti, so the gateway can
// reject replays after the TTL window closes.
func (id *Identity) MintToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id.MemberAddress,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(id.TokenTTL)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(id.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
