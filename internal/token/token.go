// internal/token/token.go
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication errors surfaced as close reasons at the handshake.
var (
	ErrMissingToken     = errors.New("missing token")
	ErrExpiredToken     = errors.New("expired token")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAudienceMismatch = errors.New("audience mismatch")
)

// Claims represents the realtime connection token claims
type Claims struct {
	UserID   string   `json:"uid"`
	Channels []string `json:"channels"`
	jwt.RegisteredClaims
}

// CanJoin reports whether the token authorizes channel operations on channel.
func (c *Claims) CanJoin(channel string) bool {
	for _, allowed := range c.Channels {
		if allowed == channel {
			return true
		}
	}
	return false
}

// Service signe et vérifie les jetons de connexion. Stateless: aucune I/O,
// pure fonction du jeton, de l'horloge et du secret.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration

	now func() time.Time
}

// NewService builds a token service. An empty secret is a deployment
// mistake and is rejected here so the process fails at startup, not
// per-connection.
func NewService(secret, issuer, audience string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue creates a signed short-lived token embedding the user's channel
// memberships. Renewal is out of band: clients re-request before expiry.
func (s *Service) Issue(userID string, channels []string) (string, time.Duration, error) {
	now := s.now()
	claims := Claims{
		UserID:   userID,
		Channels: channels,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   userID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("token: sign: %w", err)
	}
	return signed, s.ttl, nil
}

// Verify validates and parses a connection token.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithAudience(s.audience))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrAudienceMismatch
		default:
			return nil, ErrInvalidSignature
		}
	}

	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
