// Package supabase implements identity.Provider against the Supabase Auth
// (GoTrue) REST API.
//
// Every request carries the project's anon key in the "apikey" header and a
// bearer token chosen per call:
//
//	sign-up / sign-in      → anon key
//	logout / current user  → the user's access token
//	admin user lookup      → service-role key
//
// The bearer header is added by an oauth2 transport wrapping a static token,
// so the base *http.Client stays injectable for tests.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sakif/ticket-platform/internal/identity"
)

// compile-time check that *Client implements identity.Provider
var _ identity.Provider = (*Client)(nil)

// Config holds the project coordinates. ServiceRoleKey is only needed for
// GetUserBySubjectID.
type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
}

// Client talks to one Supabase project. It holds no per-user state and is
// safe for concurrent use.
type Client struct {
	baseURL        string
	anonKey        string
	serviceRoleKey string
	http           *http.Client
}

// New creates a Client. httpClient may be nil, in which case
// http.DefaultClient is used. No request timeout is applied: a call lasts as
// long as the caller's context allows.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.New("supabase: URL and anon key are required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("supabase: invalid URL %q: %w", cfg.URL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		http:           httpClient,
	}, nil
}

type credentials struct {
	Email    string             `json:"email"`
	Password string             `json:"password"`
	Data     *identity.Metadata `json:"data,omitempty"`
}

// sessionResponse is GoTrue's token payload: the session fields plus the user.
type sessionResponse struct {
	identity.Session
	User *identity.User `json:"user"`
}

// SignUp creates the provider account. With email confirmation enabled
// GoTrue answers with the bare user and no session.
func (c *Client) SignUp(ctx context.Context, email, password string, meta identity.Metadata) (*identity.Result, error) {
	body := credentials{Email: email, Password: password, Data: &meta}

	raw, err := c.do(ctx, "sign up", http.MethodPost, "/signup", c.anonKey, body)
	if err != nil {
		return nil, err
	}

	var sr sessionResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, identity.ProviderError("sign up", 0, "unreadable sign-up response")
	}
	if sr.AccessToken != "" {
		return &identity.Result{User: sr.User, Session: &sr.Session}, nil
	}

	var u identity.User
	if err := json.Unmarshal(raw, &u); err != nil || u.ID == "" {
		return nil, identity.ProviderError("sign up", 0, "unreadable sign-up response")
	}
	return &identity.Result{User: &u}, nil
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Result, error) {
	raw, err := c.do(ctx, "sign in", http.MethodPost, "/token?grant_type=password", c.anonKey,
		credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var sr sessionResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, identity.ProviderError("sign in", 0, "unreadable sign-in response")
	}
	return &identity.Result{User: sr.User, Session: &sr.Session}, nil
}

// SignOut revokes the refresh tokens of the session behind accessToken. The
// access token itself stays valid until it expires.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, "sign out", http.MethodPost, "/logout", accessToken, nil)
	return err
}

// GetUser returns the user the access token was issued to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*identity.User, error) {
	raw, err := c.do(ctx, "get user", http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	var u identity.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, identity.ProviderError("get user", 0, "unreadable user response")
	}
	return &u, nil
}

// GetUserBySubjectID looks the user up through the admin API. It returns
// (nil, nil) when GoTrue answers 404.
func (c *Client) GetUserBySubjectID(ctx context.Context, id string) (*identity.User, error) {
	if c.serviceRoleKey == "" {
		return nil, identity.ProviderError("admin get user", 0, "service role key not configured")
	}

	raw, err := c.do(ctx, "admin get user", http.MethodGet, "/admin/users/"+url.PathEscape(id), c.serviceRoleKey, nil)
	if err != nil {
		var perr *identity.Error
		if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var u identity.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, identity.ProviderError("admin get user", 0, "unreadable user response")
	}
	return &u, nil
}

// do performs one request and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path, bearer string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("supabase: encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("supabase: building %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.clientFor(ctx, bearer).Do(req)
	if err != nil {
		return nil, identity.ProviderError(op, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, identity.ProviderError(op, resp.StatusCode, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, identity.ProviderError(op, resp.StatusCode, errorMessage(raw, resp.StatusCode))
	}
	return raw, nil
}

// clientFor returns an HTTP client that sends "Authorization: Bearer <bearer>".
func (c *Client) clientFor(ctx context.Context, bearer string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: bearer,
		TokenType:   "Bearer",
	}))
}

// errorMessage extracts the human-readable message from a GoTrue error body.
// GoTrue has used several shapes over time.
func errorMessage(raw []byte, status int) string {
	var e struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	return http.StatusText(status)
}
