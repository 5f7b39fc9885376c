// Package identity describes the remote identity provider the service
// authenticates against. The provider owns credentials and issues access
// tokens; this service only mirrors the resulting identity locally.
//
// Two implementations exist:
//   - identity/supabase: the Supabase Auth (GoTrue) REST API
//   - identity/local:    an in-process provider for development and tests
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/ticket-platform/internal/apperror"
)

// Metadata is the free-form profile the provider stores next to a user.
type Metadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName prefers the full name, falling back to the short one.
func (m Metadata) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Name
}

// User is the provider's view of an account.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	UserMetadata     Metadata   `json:"user_metadata"`
}

// EmailConfirmed reports whether the provider has seen the confirmation link.
func (u *User) EmailConfirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Session is the provider-issued token pair, passed through to clients.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Result is returned by sign-up and sign-in. Session is nil when the
// provider withholds one, e.g. until the email address is confirmed.
type Result struct {
	User    *User
	Session *Session
}

// Provider is the set of remote calls the auth service depends on.
//
// Calls are made once; a transport or provider-side failure comes back as an
// error wrapping apperror.ErrProvider with the provider's message.
type Provider interface {
	SignUp(ctx context.Context, email, password string, meta Metadata) (*Result, error)
	SignIn(ctx context.Context, email, password string) (*Result, error)
	SignOut(ctx context.Context, accessToken string) error

	// GetUser resolves the user behind a provider access token.
	GetUser(ctx context.Context, accessToken string) (*User, error)

	// GetUserBySubjectID looks a user up by id with admin privileges.
	// It returns (nil, nil) when no such user exists.
	GetUserBySubjectID(ctx context.Context, id string) (*User, error)
}

// ProviderError builds the error returned for a failed provider call. status
// is the HTTP status the provider answered with, or 0 for transport failures.
func ProviderError(op string, status int, message string) error {
	if message == "" {
		message = fmt.Sprintf("%s failed", op)
	}
	return &Error{Op: op, Status: status, AppError: apperror.Provider(message)}
}

// Error is a provider failure. It unwraps to an *apperror.AppError so the
// handlers can show its message and classify it with errors.Is.
type Error struct {
	Op     string
	Status int
	*apperror.AppError
}

func (e *Error) Unwrap() error { return e.AppError }
