// Package auth turns signed bearer tokens into core identities.
// Login and session handling live outside this module; tokens are minted by operators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stock-settlement/internal/core"
)

// Claims represents the JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenExpiry is the default token lifetime.
const TokenExpiry = 7 * 24 * time.Hour

// ErrMissingToken is returned when no bearer token was supplied.
var ErrMissingToken = errors.New("missing token")

// GenerateToken creates a signed HS256 token for an identity.
func GenerateToken(secret string, id core.Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET not set")
	}
	if _, err := core.ParseRole(string(id.Role)); err != nil {
		return "", err
	}
	if id.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", core.ErrInvalidRequest)
	}
	if ttl <= 0 {
		ttl = TokenExpiry
	}

	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		Name:   id.Name,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Identity converts validated claims into a core identity.
func (c *Claims) Identity() (core.Identity, error) {
	role, err := core.ParseRole(c.Role)
	if err != nil {
		return core.Identity{}, err
	}
	if c.UserID == "" {
		return core.Identity{}, fmt.Errorf("token carries no user id")
	}
	return core.Identity{UserID: c.UserID, Name: c.Name, Role: role}, nil
}

// TokenProvider resolves the caller from a bearer token.
type TokenProvider struct {
	secret string
	token  string
}

func NewTokenProvider(secret, token string) *TokenProvider {
	return &TokenProvider{secret: secret, token: token}
}

func (p *TokenProvider) Identity(_ context.Context) (core.Identity, error) {
	if p.token == "" {
		return core.Identity{}, fmt.Errorf("%w: %w", core.ErrForbidden, ErrMissingToken)
	}
	claims, err := ValidateToken(p.secret, p.token)
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %w", core.ErrForbidden, err)
	}
	id, err := claims.Identity()
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %w", core.ErrForbidden, err)
	}
	return id, nil
}

// StaticProvider always returns the same identity. Used by tests and trusted tooling.
type StaticProvider struct {
	ID core.Identity
}

func (p StaticProvider) Identity(_ context.Context) (core.Identity, error) {
	if p.ID.UserID == "" {
		return core.Identity{}, fmt.Errorf("%w: %w", core.ErrForbidden, ErrMissingToken)
	}
	return p.ID, nil
}
