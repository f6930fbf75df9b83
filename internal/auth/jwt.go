// Package auth issues and validates the Ed25519-signed JWTs presented at
// websocket upgrade time.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims represents the identity a token grants: the acting user and the
// organization whose records they may watch.
type Claims struct {
	UserID string `json:"userId"`
	OrgID  string `json:"orgId"`
	jwt.RegisteredClaims
}

// TokenConfig holds JWT configuration
type TokenConfig struct {
	Issuer       string
	ExpiryHours  int
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
}

// NewTokenConfig generates a fresh keypair. Tokens issued under it are only
// valid for the lifetime of the process.
func NewTokenConfig(issuer string, expiryHours int) (*TokenConfig, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &TokenConfig{
		Issuer:       issuer,
		ExpiryHours:  expiryHours,
		SigningKey:   priv,
		VerifyingKey: pub,
	}, nil
}

// TokenConfigFromSeed derives the keypair from a stored 32-byte seed so
// tokens survive daemon restarts.
func TokenConfigFromSeed(seed []byte, issuer string, expiryHours int) (*TokenConfig, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &TokenConfig{
		Issuer:       issuer,
		ExpiryHours:  expiryHours,
		SigningKey:   priv,
		VerifyingKey: priv.Public().(ed25519.PublicKey),
	}, nil
}

// GenerateToken creates a new JWT for the given identity
func GenerateToken(userID, orgID string, config *TokenConfig) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		OrgID:  orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(config.ExpiryHours) * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(config.SigningKey)
}

// ValidateToken verifies a JWT and returns the claims if valid
func ValidateToken(tokenString string, config *TokenConfig) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrInvalidToken
		}
		return config.VerifyingKey, nil
	}, jwt.WithIssuer(config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.OrgID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Validator adapts a TokenConfig to the hub's upgrade check.
func Validator(config *TokenConfig) func(token string) error {
	return func(token string) error {
		_, err := ValidateToken(token, config)
		return err
	}
}
