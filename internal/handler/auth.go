package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/ticket-platform/internal/auth"
	"github.com/sakif/ticket-platform/internal/identity"
	"github.com/sakif/ticket-platform/internal/model"
	"github.com/sakif/ticket-platform/internal/service"
)

// AuthService is the subset of *service.AuthService the handlers call.
// Declaring it here lets the tests substitute a fake.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	GoogleAuth(ctx context.Context, accessToken string) (*service.AuthResult, error)
	GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error)
	UpdateUserRole(ctx context.Context, userID, role string) (*model.User, error)
	VerifyEmail(ctx context.Context, userID string) (*model.User, error)
	SyncEmailVerification(ctx context.Context, subjectID string) (*model.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// AuthHandler serves the /auth routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin / HandleGoogle → account flows, return user + session
//   - HandleProfile                              → the caller's local user
//   - HandleLogout                               → provider-side sign-out
//   - HandleUpdateRole                           → admin-only role change
//   - HandleVerifyEmail / HandleSyncVerification → verification flag upkeep
//
// Routes behind RequireUser read the caller from auth.IdentityFromContext.
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authService AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, logger: logger}
}

// =========================================================================
// REQUEST BODIES
// =========================================================================

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&r.Name, validation.Length(0, 200)),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type googleRequest struct {
	AccessToken string `json:"accessToken"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (r roleRequest) Validate() error {
	roles := make([]any, len(model.AllRoles))
	for i, role := range model.AllRoles {
		roles[i] = string(role)
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.In(roles...).Error("must be a valid role")),
	)
}

// =========================================================================
// RESPONSE BODIES
// =========================================================================

// userView is the user as clients see it. The provider subject stays private.
type userView struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       model.Role `json:"role"`
	IsVerified bool       `json:"is_verified"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
}

func viewOf(u *model.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, IsVerified: u.IsVerified}
}

type sessionData struct {
	User    userView          `json:"user"`
	Session *identity.Session `json:"session"`
}

type userData struct {
	User userView `json:"user"`
}

// =========================================================================
// HANDLERS
// =========================================================================

// HandleRegister creates an account.
//
// HTTP: POST /auth/register {email, password, name?} → 201
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeFailure(w, h.logger, http.StatusCreated, err, "Registration failed")
		return
	}

	writeSuccess(w, http.StatusCreated,
		"User registered successfully. Please check your email to confirm your account.",
		sessionData{User: viewOf(result.User), Session: result.Session})
}

// HandleLogin signs a user in.
//
// HTTP: POST /auth/login {email, password} → 200
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Login failed")
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful",
		sessionData{User: viewOf(result.User), Session: result.Session})
}

// HandleGoogle finishes a Google sign-in done in the browser.
//
// HTTP: POST /auth/google {accessToken} → 200, or 400 without a token
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Message: "Access token is required"})
		return
	}

	result, err := h.auth.GoogleAuth(r.Context(), req.AccessToken)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Google authentication failed")
		return
	}

	writeSuccess(w, http.StatusOK, "Google authentication successful",
		sessionData{User: viewOf(result.User), Session: result.Session})
}

// HandleProfile returns the caller's local user.
//
// HTTP: GET /auth/profile (RequireUser)
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	user, err := h.auth.GetUserBySubjectID(r.Context(), id.Subject)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Failed to get profile")
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Message: "User not found"})
		return
	}

	view := viewOf(user)
	view.AvatarURL = user.AvatarURL
	writeSuccess(w, http.StatusOK, "", userData{User: view})
}

// HandleLogout signs the session out at the provider.
//
// HTTP: POST /auth/logout (RequireUser)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Logout failed")
		return
	}
	writeSuccess(w, http.StatusOK, "Logout successful", nil)
}

// HandleUpdateRole changes another user's role.
//
// HTTP: POST /auth/users/{id}/role {role} (RequireUser, RequireRole ADMIN|SUPERADMIN)
func (h *AuthHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err)
		return
	}

	user, err := h.auth.UpdateUserRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Failed to update user role")
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	h.logger.Info("role updated by admin",
		slog.String("adminID", caller.UserID),
		slog.String("userID", user.ID),
		slog.String("role", string(user.Role)),
	)
	writeSuccess(w, http.StatusOK, "User role updated successfully", userData{User: viewOf(user)})
}

// HandleVerifyEmail marks the caller verified.
//
// HTTP: POST /auth/verify-email (RequireUser)
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if id.UserID == "" {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Message: "User not found"})
		return
	}

	user, err := h.auth.VerifyEmail(r.Context(), id.UserID)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Failed to verify email")
		return
	}
	writeSuccess(w, http.StatusOK, "Email verified successfully", userData{User: viewOf(user)})
}

// HandleSyncVerification pulls the caller's confirmation state from the
// provider.
//
// HTTP: POST /auth/sync-verification (RequireUser)
func (h *AuthHandler) HandleSyncVerification(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	user, err := h.auth.SyncEmailVerification(r.Context(), id.Subject)
	if err != nil {
		writeFailure(w, h.logger, http.StatusOK, err, "Failed to sync verification")
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Message: "User not found"})
		return
	}
	writeSuccess(w, http.StatusOK, "Verification status synced", userData{User: viewOf(user)})
}
