// Package auth verifies actor tokens. Authentication itself happens
// outside this service; callers arrive with a signed assertion of who they
// are (display name) and what they are (student or counselor), and this
// package only checks the signature and expiry.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"counselhub/api/internal/roles"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Actor struct {
	Name string
	Role roles.Role
}

type actorClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueActorToken mints an HS256 actor token. The API itself never calls
// this in the request path; it exists for the identity collaborator and
// for tests.
func IssueActorToken(secret []byte, name string, role roles.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		Name: name,
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseActorToken validates signature, expiry and claims shape.
func ParseActorToken(secret []byte, token string) (Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &actorClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrExpiredToken
		}
		return Actor{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*actorClaims)
	if !ok || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}
	if claims.Name == "" || !roles.Known(claims.Role) {
		return Actor{}, ErrInvalidToken
	}
	return Actor{Name: claims.Name, Role: roles.Role(claims.Role)}, nil
}
