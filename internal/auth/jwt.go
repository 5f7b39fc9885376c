// Package auth is the token codec and request-identity plumbing shared by the
// access gate, the handlers, and the in-process identity provider.
//
// Access tokens are issued by the identity provider (Supabase Auth), not by
// this service. They are HS256 JWTs signed with the project's JWT secret:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<provider user id>","email":"...","role":"authenticated",
//	            "aud":"authenticated","exp":1234567890}
//
// We only ever need the subject and expiry, and we only trust them after
// Verify has checked the signature.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is wrapped by every Verify and Decode failure.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired is an alias of the library sentinel so callers don't
	// need to import jwt to tell expiry apart from other failures.
	ErrTokenExpired = jwt.ErrTokenExpired
)

// Claims is the access-token payload. Subject and ExpiresAt come from the
// embedded registered claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"` // provider-side role, e.g. "authenticated"
	jwt.RegisteredClaims
}

// Expiry returns the token's expiry, or the zero time when it has none.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenService verifies access tokens with the shared HMAC secret, and signs
// them for the local identity provider.
type TokenService struct {
	secret   []byte
	audience string
	issuer   string
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithAudience requires (and, when signing, sets) the "aud" claim.
func WithAudience(aud string) TokenOption {
	return func(s *TokenService) { s.audience = aud }
}

// WithIssuer requires (and, when signing, sets) the "iss" claim.
func WithIssuer(iss string) TokenOption {
	return func(s *TokenService) { s.issuer = iss }
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{secret: []byte(secret)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate signs a new access token for subject. Only the local identity
// provider and tests mint tokens; in production Supabase does.
func (s *TokenService) Generate(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()

	c := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
	}
	if s.audience != "" {
		c.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr, checks its HS256 signature, expiry and (when
// configured) audience and issuer, and returns the claims.
//
// Failures wrap ErrInvalidToken; an expired token additionally wraps
// ErrTokenExpired.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unreadable claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return c, nil
}

// Decode reads the claims WITHOUT checking the signature or expiry.
// Use it for diagnostics only; access decisions must go through Verify.
func (s *TokenService) Decode(tokenStr string) (*Claims, error) {
	c := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return c, nil
}
