// Package auth authenticates callers of the admin API: operators present
// short-lived HS256 JWTs, machine callers a static API key checked against a
// bcrypt hash. Repeated failures from one IP are throttled.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"payretry/internal/types"
)

// Claims are the operator token claims. Org confines the operator to one
// organisation; an empty Org grants access to every organisation.
type Claims struct {
	Org string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies operator tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  types.Clock
}

// NewTokenService creates a TokenService. clock may be nil.
func NewTokenService(secret, issuer string, ttl time.Duration, clock types.Clock) *TokenService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clock}
}

// Issue signs a token for subject, optionally scoped to orgID.
func (s *TokenService) Issue(subject, orgID string) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		Org: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
func (s *TokenService) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		msg := "invalid authentication token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "authentication token has expired"
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, msg, err)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	return claims, nil
}
