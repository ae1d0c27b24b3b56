// Package auth issues and validates the bearer tokens that gate mutating
// index endpoints. There is a single admin principal per server; a valid
// token is proof of possession of the admin secret, not an identity claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/outbackwave/cdxindex/safety"
)

// GenerateToken creates a signed JWT string from the given claims.
// The expiry duration is added to the current time to set the ExpiresAt field.
// Returns an error if the secret is shorter than safety.MinSecretLen bytes.
func GenerateToken(secret []byte, claims *AdminClaims, expiry time.Duration) (string, error) {
	if err := safety.ValidateSecret(secret); err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}

	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a JWT string, returning the structured
// AdminClaims. Strictly pins the signing method to HS256 to prevent
// algorithm confusion attacks.
func ValidateToken(secret []byte, tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
