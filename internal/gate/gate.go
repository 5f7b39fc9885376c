// Package gate is the access gate: HTTP middleware that authenticates the
// bearer token on every request and enforces the route policy by role.
//
// Page requests (paths ending in .html, plus the policy's page paths) are
// answered with redirects to the login page, everything else with a JSON
// 401 or 403. Policy checks only ever see cleaned paths.
//
//	router.Use(g.Authenticate, g.Authorize)
//	router.With(g.RequireUser, g.RequireRole(model.RoleAdmin)).Post(...)
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sakif/ticket-platform/internal/apperror"
	"github.com/sakif/ticket-platform/internal/auth"
	"github.com/sakif/ticket-platform/internal/model"
)

// UserResolver finds the local user linked to a provider subject.
// repository.UserRepository satisfies it.
type UserResolver interface {
	FindBySubjectID(ctx context.Context, subjectID string) (*model.User, error)
}

// Gate holds what the middleware needs to authenticate and authorize.
type Gate struct {
	tokens *auth.TokenService
	users  UserResolver
	policy Policy
	logger *slog.Logger
}

// New creates a Gate enforcing policy.
func New(tokens *auth.TokenService, users UserResolver, policy Policy, logger *slog.Logger) *Gate {
	return &Gate{tokens: tokens, users: users, policy: policy, logger: logger}
}

// Policy returns the route table the gate enforces.
func (g *Gate) Policy() Policy { return g.policy }

// cleanPath resolves "." and ".." segments and repeated slashes, keeping a
// trailing slash. The file server behind the gate resolves paths the same
// way, so prefix checks must run against this form.
func cleanPath(p string) string {
	clean := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

// Authenticate resolves the caller for every request that is not API or
// public, and attaches an auth.Identity to the request context.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Non-canonical paths are sent to their canonical form, which
		// passes through the gate again.
		if clean := cleanPath(path); clean != path {
			target := url.URL{Path: clean, RawQuery: r.URL.RawQuery}
			http.Redirect(w, r, target.String(), http.StatusMovedPermanently)
			return
		}

		if g.policy.isAPI(path) || g.policy.isPublic(path) {
			next.ServeHTTP(w, r)
			return
		}

		if path == "/" {
			// Signed-in visitors land on their role's page; anyone else
			// gets the landing page served by next.
			if user, _, err := g.resolve(r); err == nil {
				http.Redirect(w, r, g.policy.LandingFor(user.Role), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		user, claims, err := g.resolve(r)
		if err != nil {
			g.reject(w, r, err)
			return
		}

		if g.policy.isSensitive(path) && !user.IsVerified {
			g.reject(w, r, apperror.Unauthorized(apperror.ReasonEmailNotVerified, "Email not verified"))
			return
		}

		ctx := auth.WithIdentity(r.Context(), auth.NewIdentity(claims, user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize enforces the policy's role rules for requests Authenticate has
// attached an identity to. Anonymous requests pass through unchanged.
func (g *Gate) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		path := cleanPath(r.URL.Path)
		if rule, found := g.policy.RuleFor(path); found && !rule.Allows(id.Role) {
			g.logger.Info("access denied",
				slog.String("path", path),
				slog.String("userID", id.UserID),
				slog.String("role", string(id.Role)),
			)
			g.reject(w, r, apperror.Forbidden("Insufficient permissions"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser guards a JSON route: the bearer token must verify. The local
// user is attached when one exists; handlers see an Identity with an empty
// UserID otherwise.
func (g *Gate) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeError(w, apperror.Unauthorized(apperror.ReasonNoToken, "No token provided"))
			return
		}
		claims, err := g.tokens.Verify(token)
		if err != nil {
			writeError(w, apperror.Unauthorized(apperror.ReasonInvalidToken, "Invalid token"))
			return
		}

		user, err := g.users.FindBySubjectID(r.Context(), claims.Subject)
		if err != nil {
			g.logger.Error("resolving user", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Internal server error"})
			return
		}

		id := &auth.Identity{Subject: claims.Subject, Claims: claims, Email: claims.Email}
		if user != nil {
			id = auth.NewIdentity(claims, user)
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// RequireRole guards a JSON route to the listed roles. It must run after
// RequireUser.
func (g *Gate) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	rule := Rule{Roles: roles}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, apperror.Forbidden("User not authenticated"))
				return
			}
			if id.UserID == "" {
				writeError(w, apperror.Forbidden("User not found in database"))
				return
			}
			if !rule.Allows(id.Role) {
				writeError(w, apperror.Forbidden("Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolve verifies the bearer token and finds the linked local user.
// Errors are unauthorized AppErrors carrying the failure reason.
func (g *Gate) resolve(r *http.Request) (*model.User, *auth.Claims, error) {
	token := auth.BearerToken(r)
	if token == "" {
		return nil, nil, apperror.Unauthorized(apperror.ReasonNoToken, "No token provided")
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		g.logger.Debug("token rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		return nil, nil, apperror.Unauthorized(apperror.ReasonInvalidToken, "Invalid token")
	}

	user, err := g.users.FindBySubjectID(r.Context(), claims.Subject)
	if err != nil {
		g.logger.Error("resolving user", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperror.Unauthorized(apperror.ReasonUserNotFound, "User not found")
	}
	return user, claims, nil
}

// reject answers a failed check: a login redirect for pages, JSON otherwise.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	if !g.policy.isPage(r.URL.Path) {
		writeError(w, err)
		return
	}

	target := g.policy.LoginPath
	switch {
	case errors.Is(err, apperror.ErrForbidden):
		target += "?error=insufficient_permissions"
	case apperror.ReasonOf(err) == apperror.ReasonNoToken:
		// plain login page
	case apperror.ReasonOf(err) == apperror.ReasonEmailNotVerified:
		target += "?error=" + url.QueryEscape(string(apperror.ReasonEmailNotVerified))
	default:
		// bad token, unknown user and lookup failures alike
		target += "?error=" + url.QueryEscape(string(apperror.ReasonInvalidToken))
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		switch {
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
		}
	}

	body := map[string]any{"success": false, "message": message}
	if reason := apperror.ReasonOf(err); reason != "" {
		body["error"] = reason
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
