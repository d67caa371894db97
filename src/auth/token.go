// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/integems/caption-agent/src/models"
)

// DefaultSessionTTL is how long a session stays valid. There is no refresh;
// once it expires the user logs in again.
const DefaultSessionTTL = 3 * 24 * time.Hour

// Claims carries the identity of a logged-in user.
type Claims struct {
	jwt.RegisteredClaims
	Email  string `json:"email"`
	UserID string `json:"id"`
}

// RevocationList remembers sessions that were ended before they expired.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// NoRevocation is used when no revocation backend is configured; logout then
// only clears the cookie.
type NoRevocation struct{}

func (NoRevocation) Revoke(context.Context, string, time.Duration) error { return nil }

func (NoRevocation) IsRevoked(context.Context, string) (bool, error) { return false, nil }

type TokenIssuer struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationList
	now         func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration, revocations RevocationList) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if revocations == nil {
		revocations = NoRevocation{}
	}
	return &TokenIssuer{secret: secret, ttl: ttl, revocations: revocations, now: time.Now}
}

// TTL returns the lifetime given to newly issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for the user and returns it with its expiry time.
func (t *TokenIssuer) Issue(email, userID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:  email,
		UserID: userID,
	})

	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Verify checks the signature, expiry and revocation state of a token.
func (t *TokenIssuer) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, models.ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, models.ErrInvalidToken
	}

	if claims.ID != "" {
		revoked, err := t.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check session revocation: %w", err)
		}
		if revoked {
			return nil, models.ErrTokenRevoked
		}
	}

	return claims, nil
}

// Revoke ends a session before its natural expiry.
func (t *TokenIssuer) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	remaining := claims.ExpiresAt.Sub(t.now())
	if remaining <= 0 {
		return nil
	}
	return t.revocations.Revoke(ctx, claims.ID, remaining)
}
