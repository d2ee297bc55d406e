// Package security signs host tokens and hashes unlock codes.
package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// hostTokenIssuer is stamped into every host token and checked on parse.
const hostTokenIssuer = "cardreveal"

// HostClaims defines JWT claims for event hosts.
type HostClaims struct {
	HostID string `json:"host_id"`
	jwt.RegisteredClaims
}

// GenerateHostToken signs a host JWT with the configured expiry.
func GenerateHostToken(secret string, hostID string, expiry time.Duration) (string, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return "", errors.New("security: empty host id")
	}
	if secret == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := HostClaims{
		HostID: hostID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    hostTokenIssuer,
			Subject:   hostID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseHostToken validates a host JWT and returns its claims.
func ParseHostToken(secret string, tokenString string) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HostClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(hostTokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.HostID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
