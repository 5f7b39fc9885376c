// Package service holds the business logic layer.
//
// AuthService sits between the HTTP handlers and the two directories it keeps
// in step:
//
//	AuthHandler (HTTP) → AuthService → identity.Provider (remote accounts, sessions)
//	                                 ↘ UserRepository   (local users, roles)
//
// The provider owns credentials and issues the access tokens. The local
// directory owns roles and the verification flag the access gate checks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/ticket-platform/internal/apperror"
	"github.com/sakif/ticket-platform/internal/events"
	"github.com/sakif/ticket-platform/internal/identity"
	"github.com/sakif/ticket-platform/internal/model"
	"github.com/sakif/ticket-platform/internal/repository"
)

// AuthService handles registration, login and user synchronisation.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users     repository.UserRepository → local user directory
//   - provider  identity.Provider         → remote identity provider
//   - publisher events.Publisher          → user lifecycle events
//   - logger    *slog.Logger              → structured logging
type AuthService struct {
	users     repository.UserRepository
	provider  identity.Provider
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates an AuthService. A nil publisher drops events.
func NewAuthService(
	users repository.UserRepository,
	provider identity.Provider,
	publisher events.Publisher,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.NewNoop()
	}
	return &AuthService{
		users:     users,
		provider:  provider,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult bundles the local user with the provider session. Session is
// nil when the provider did not issue one.
type AuthResult struct {
	User    *model.User
	Session *identity.Session
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the account at the provider and mirrors it locally with
// role USER. A second registration for the same email fails with
// apperror.ErrConflict before the provider is contacted.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = normalizeEmail(email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking email %s: %w", email, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "User with this email already exists",
			Field:   "email",
		})
	}

	res, err := s.provider.SignUp(ctx, email, password, identity.Metadata{FullName: name, Name: name})
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}
	if res.User == nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, apperror.Provider("Registration failed"))
	}

	user, err := s.users.FindByEmail(ctx, normalizeEmail(res.User.Email))
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	if user == nil {
		user = &model.User{
			Email:      normalizeEmail(res.User.Email),
			Name:       name,
			Role:       model.RoleUser,
			IsVerified: res.User.EmailConfirmed(),
			SubjectID:  res.User.ID,
			Phone:      res.User.Phone,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating local user %s: %w", email, err)
		}

		s.logger.Info("user registered",
			slog.String("userID", user.ID),
			slog.Bool("verified", user.IsVerified),
		)
		s.publish(ctx, events.KeyUserRegistered, events.UserRegistered{
			UserID:     user.ID,
			Email:      user.Email,
			Name:       user.Name,
			OccurredAt: s.now().UTC(),
		})
	}

	return &AuthResult{User: user, Session: res.Session}, nil
}

// Login signs in at the provider and resolves the linked local user.
//
// A provider account without a local counterpart is refused with the
// user_not_found reason; login never provisions users. When the provider
// reports a confirmed email that the directory has not caught up with, the
// local flag is upgraded before returning.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	res, err := s.provider.SignIn(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: signing in: %w", invalidCredentials(err))
	}
	if res.User == nil {
		return nil, fmt.Errorf("service/auth: signing in: %w", invalidCredentials(nil))
	}

	user, err := s.users.FindBySubjectID(ctx, res.User.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving subject %s: %w", res.User.ID, err)
	}
	if user == nil {
		s.logger.Warn("provider account has no local user", slog.String("subject", res.User.ID))
		return nil, fmt.Errorf("service/auth: signing in: %w",
			apperror.Unauthorized(apperror.ReasonUserNotFound, "User not found"))
	}

	if res.User.EmailConfirmed() && !user.IsVerified {
		if err := s.markVerified(ctx, user); err != nil {
			return nil, err
		}
	}

	return &AuthResult{User: user, Session: res.Session}, nil
}

// invalidCredentials keeps the provider's message ("Email not confirmed" is
// worth showing) but classifies the failure as bad credentials.
func invalidCredentials(cause error) error {
	msg := "Invalid credentials"
	var appErr *apperror.AppError
	if errors.As(cause, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	return apperror.Unauthorized(apperror.ReasonInvalidCreds, msg)
}

// GoogleAuth completes a Google sign-in the browser performed against the
// provider. The provider access token is resolved to its user, which is
// synced into the directory, and passed back as the session.
func (s *AuthService) GoogleAuth(ctx context.Context, accessToken string) (*AuthResult, error) {
	if accessToken == "" {
		return nil, apperror.ValidationFailed("accessToken", "Access token is required")
	}

	pu, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving google session: %w", err)
	}

	user, err := s.SyncUserFromProvider(ctx, pu)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:    user,
		Session: &identity.Session{AccessToken: accessToken, TokenType: "bearer"},
	}, nil
}

// SyncUserFromProvider mirrors a provider user into the directory.
//
// Matching is by subject first, then by email (linking the subject to an
// existing local user). With no match a USER is created. The verification
// flag only moves from false to true. The directory is written only when a
// field actually changed.
func (s *AuthService) SyncUserFromProvider(ctx context.Context, pu *identity.User) (*model.User, error) {
	if pu == nil || pu.ID == "" {
		return nil, fmt.Errorf("service/auth: provider user must not be empty")
	}
	email := normalizeEmail(pu.Email)

	user, err := s.users.FindBySubjectID(ctx, pu.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving subject %s: %w", pu.ID, err)
	}
	if user == nil && email != "" {
		if user, err = s.users.FindByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
		}
	}

	if user == nil {
		user = &model.User{
			Email:      email,
			Name:       pu.UserMetadata.DisplayName(),
			Role:       model.RoleUser,
			IsVerified: pu.EmailConfirmed(),
			SubjectID:  pu.ID,
			Phone:      pu.Phone,
			AvatarURL:  pu.UserMetadata.AvatarURL,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating local user for subject %s: %w", pu.ID, err)
		}
		s.logger.Info("user provisioned from provider", slog.String("userID", user.ID))
		s.publish(ctx, events.KeyUserRegistered, events.UserRegistered{
			UserID:     user.ID,
			Email:      user.Email,
			Name:       user.Name,
			OccurredAt: s.now().UTC(),
		})
		return user, nil
	}

	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&user.SubjectID, pu.ID)
	set(&user.Email, email)
	if user.Name == "" {
		set(&user.Name, pu.UserMetadata.DisplayName())
	}
	if user.AvatarURL == "" {
		set(&user.AvatarURL, pu.UserMetadata.AvatarURL)
	}
	becameVerified := pu.EmailConfirmed() && !user.IsVerified
	if becameVerified {
		user.IsVerified = true
		changed = true
	}

	if changed {
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: syncing user %s: %w", user.ID, err)
		}
	}
	if becameVerified {
		s.publishVerified(ctx, user)
	}
	return user, nil
}

// GetUserBySubjectID returns the local user linked to the subject, or nil.
func (s *AuthService) GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	user, err := s.users.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving subject %s: %w", subjectID, err)
	}
	return user, nil
}

// UpdateUserRole overwrites the user's role. Authorization is the caller's
// concern; the route is guarded by the ADMIN and SUPERADMIN roles.
func (s *AuthService) UpdateUserRole(ctx context.Context, userID, role string) (*model.User, error) {
	newRole, err := model.ParseRole(role)
	if err != nil {
		return nil, apperror.ValidationFailed("role", "Invalid role")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	oldRole := user.Role
	user.Role = newRole
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: updating role of user %s: %w", userID, err)
	}

	s.logger.Info("user role changed",
		slog.String("userID", user.ID),
		slog.String("from", string(oldRole)),
		slog.String("to", string(newRole)),
	)
	s.publish(ctx, events.KeyUserRoleChanged, events.UserRoleChanged{
		UserID:     user.ID,
		Email:      user.Email,
		From:       string(oldRole),
		To:         string(newRole),
		OccurredAt: s.now().UTC(),
	})
	return user, nil
}

// VerifyEmail marks the user verified without consulting the provider.
func (s *AuthService) VerifyEmail(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	wasVerified := user.IsVerified
	user.IsVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: verifying user %s: %w", userID, err)
	}
	if !wasVerified {
		s.publishVerified(ctx, user)
	}
	return user, nil
}

// SyncEmailVerification copies the provider's confirmation state into the
// directory. It returns (nil, nil) when either side has no such user. The
// flag is only ever upgraded, and nothing is written when it is already set.
func (s *AuthService) SyncEmailVerification(ctx context.Context, subjectID string) (*model.User, error) {
	pu, err := s.provider.GetUserBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching provider user %s: %w", subjectID, err)
	}
	if pu == nil {
		return nil, nil
	}

	user, err := s.users.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving subject %s: %w", subjectID, err)
	}
	if user == nil {
		return nil, nil
	}

	if pu.EmailConfirmed() && !user.IsVerified {
		if err := s.markVerified(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Logout signs the session out at the provider. No local state is kept.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		return fmt.Errorf("service/auth: signing out: %w", err)
	}
	return nil
}

func (s *AuthService) markVerified(ctx context.Context, user *model.User) error {
	user.IsVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("service/auth: marking user %s verified: %w", user.ID, err)
	}
	s.logger.Info("email verification synced", slog.String("userID", user.ID))
	s.publishVerified(ctx, user)
	return nil
}

func (s *AuthService) publishVerified(ctx context.Context, user *model.User) {
	s.publish(ctx, events.KeyUserVerified, events.UserVerified{
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: s.now().UTC(),
	})
}

// publish logs publisher failures instead of returning them.
func (s *AuthService) publish(ctx context.Context, key string, event any) {
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.Warn("publishing event failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
