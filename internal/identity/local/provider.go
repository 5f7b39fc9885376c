// Package local is an in-process identity.Provider. It stands in for
// Supabase when no project is configured (local development) and in
// end-to-end tests.
//
// It follows GoTrue's observable behaviour closely enough for the auth
// service not to care which provider it talks to:
//   - sign-up withholds the session until the email is confirmed
//   - sign-in refuses unconfirmed emails with "Email not confirmed"
//   - access tokens are HS256 JWTs signed with the shared JWT secret
package local

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/ticket-platform/internal/auth"
	"github.com/sakif/ticket-platform/internal/identity"
)

// compile-time check that *Provider implements identity.Provider
var _ identity.Provider = (*Provider)(nil)

// DefaultTokenTTL matches GoTrue's default access-token lifetime.
const DefaultTokenTTL = time.Hour

type account struct {
	user         identity.User
	passwordHash string
}

// Provider keeps accounts in memory. It is safe for concurrent use.
type Provider struct {
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	autoConfirm bool
	ttl         time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	byID     map[string]*account
	byEmail  map[string]*account
	sessions map[string]string // refresh token → subject
}

// Option customises a Provider.
type Option func(*Provider)

// WithAutoConfirm marks new accounts as confirmed immediately, like a GoTrue
// project with email confirmation turned off.
func WithAutoConfirm(on bool) Option {
	return func(p *Provider) { p.autoConfirm = on }
}

// WithTokenTTL overrides the access-token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates an empty Provider signing tokens with tokens and hashing
// passwords with passwords.
func New(tokens *auth.TokenService, passwords *auth.PasswordService, opts ...Option) *Provider {
	p := &Provider{
		tokens:    tokens,
		passwords: passwords,
		ttl:       DefaultTokenTTL,
		now:       time.Now,
		byID:      make(map[string]*account),
		byEmail:   make(map[string]*account),
		sessions:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account.
func (p *Provider) SignUp(ctx context.Context, email, password string, meta identity.Metadata) (*identity.Result, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, identity.ProviderError("sign up", http.StatusBadRequest, "Signup requires a valid email and password")
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, identity.ProviderError("sign up", http.StatusUnprocessableEntity, "Password is too long")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[email]; exists {
		return nil, identity.ProviderError("sign up", http.StatusUnprocessableEntity, "User already registered")
	}

	acc := &account{
		user: identity.User{
			ID:           uuid.NewString(),
			Email:        email,
			UserMetadata: meta,
		},
		passwordHash: hash,
	}
	if p.autoConfirm {
		now := p.now()
		acc.user.EmailConfirmedAt = &now
	}
	p.byID[acc.user.ID] = acc
	p.byEmail[email] = acc

	res := &identity.Result{User: copyUser(acc.user)}
	if acc.user.EmailConfirmed() {
		if res.Session, err = p.issueLocked(acc.user); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SignIn checks the password and issues a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.byEmail[normalizeEmail(email)]
	if !ok || p.passwords.Verify(acc.passwordHash, password) != nil {
		return nil, identity.ProviderError("sign in", http.StatusBadRequest, "Invalid login credentials")
	}
	if !acc.user.EmailConfirmed() {
		return nil, identity.ProviderError("sign in", http.StatusBadRequest, "Email not confirmed")
	}

	session, err := p.issueLocked(acc.user)
	if err != nil {
		return nil, err
	}
	return &identity.Result{User: copyUser(acc.user), Session: session}, nil
}

// SignOut drops every refresh token issued to the token's subject.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.tokens.Verify(accessToken)
	if err != nil {
		return identity.ProviderError("sign out", http.StatusUnauthorized, "invalid JWT")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for refresh, sub := range p.sessions {
		if sub == claims.Subject {
			delete(p.sessions, refresh)
		}
	}
	return nil
}

// GetUser resolves the account behind a valid access token.
func (p *Provider) GetUser(ctx context.Context, accessToken string) (*identity.User, error) {
	claims, err := p.tokens.Verify(accessToken)
	if err != nil {
		return nil, identity.ProviderError("get user", http.StatusUnauthorized, "invalid JWT")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	acc, ok := p.byID[claims.Subject]
	if !ok {
		return nil, identity.ProviderError("get user", http.StatusNotFound, "User not found")
	}
	return copyUser(acc.user), nil
}

// GetUserBySubjectID returns (nil, nil) for unknown ids.
func (p *Provider) GetUserBySubjectID(ctx context.Context, id string) (*identity.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acc, ok := p.byID[id]
	if !ok {
		return nil, nil
	}
	return copyUser(acc.user), nil
}

// ConfirmEmail simulates the user following the confirmation link.
func (p *Provider) ConfirmEmail(email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return identity.ProviderError("confirm email", http.StatusNotFound, "User not found")
	}
	if acc.user.EmailConfirmedAt == nil {
		now := p.now()
		acc.user.EmailConfirmedAt = &now
	}
	return nil
}

// issueLocked mints a session for u. p.mu must be held for writing.
func (p *Provider) issueLocked(u identity.User) (*identity.Session, error) {
	token, err := p.tokens.Generate(u.ID, u.Email, p.ttl)
	if err != nil {
		return nil, identity.ProviderError("issue session", http.StatusInternalServerError, "could not sign access token")
	}

	refresh := uuid.NewString()
	p.sessions[refresh] = u.ID

	return &identity.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    int(p.ttl.Seconds()),
		ExpiresAt:    p.now().Add(p.ttl).Unix(),
		RefreshToken: refresh,
	}, nil
}

func copyUser(u identity.User) *identity.User {
	c := u
	if u.EmailConfirmedAt != nil {
		t := *u.EmailConfirmedAt
		c.EmailConfirmedAt = &t
	}
	return &c
}
