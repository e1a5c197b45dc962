// Package auth verifies the identity tokens the application trusts.
// Authentication itself is delegated to an external identity provider that
// shares an HMAC signing key with the backend; this package only checks
// signatures and expiry and extracts the subject. CreateToken exists for
// local development and tests, standing in for the provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

// jwtSigningKey is a global variable that holds the key used for verifying
// (and, in development, signing) JWT tokens.
var jwtSigningKey string

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when a token's expiry has passed.
var ErrExpiredToken = errors.New("expired token")

// InitAuth sets the shared signing key. It must be called before any token
// is created or verified.
func InitAuth(signingKey string) {
	jwtSigningKey = signingKey
}

// CreateToken creates a signed JWT for the given subject, valid for the
// given duration. In production the external identity provider issues
// these; this helper backs local development and the test suite.
func CreateToken(subject string, validFor time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(validFor).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))
	if err != nil {
		return "", errors.New("failed to create token")
	}

	return signedToken, nil
}

// VerifyToken validates a token's signature and expiry and returns its
// subject claim.
func VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
