package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ticket-platform/internal/apperror"
	"github.com/sakif/ticket-platform/internal/identity"
)

const (
	anonKey    = "anon-key"
	serviceKey = "service-role-key"
)

// newTestClient starts a GoTrue stand-in served by mux and returns a Client
// pointed at it.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, AnonKey: anonKey, ServiceRoleKey: serviceKey}, srv.Client())
	require.NoError(t, err)
	return c
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNew_RequiresURLAndAnonKey(t *testing.T) {
	_, err := New(Config{URL: "", AnonKey: anonKey}, nil)
	assert.Error(t, err)

	_, err = New(Config{URL: "https://project.supabase.co", AnonKey: ""}, nil)
	assert.Error(t, err)
}

func TestSignUp_WithoutSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, anonKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer "+anonKey, r.Header.Get("Authorization"))

		var in credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "a@x.com", in.Email)
		assert.Equal(t, "Ann", in.Data.FullName)

		writeBody(w, http.StatusOK, `{"id":"sub-1","email":"a@x.com","email_confirmed_at":null}`)
	})
	c := newTestClient(t, mux)

	res, err := c.SignUp(context.Background(), "a@x.com", "pw123456", identity.Metadata{FullName: "Ann"})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	require.NotNil(t, res.User)
	assert.Equal(t, "sub-1", res.User.ID)
	assert.False(t, res.User.EmailConfirmed())
}

func TestSignUp_WithSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{
			"access_token":"at","token_type":"bearer","expires_in":3600,"refresh_token":"rt",
			"user":{"id":"sub-1","email":"a@x.com","email_confirmed_at":"2026-01-02T03:04:05Z"}
		}`)
	})
	c := newTestClient(t, mux)

	res, err := c.SignUp(context.Background(), "a@x.com", "pw123456", identity.Metadata{})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "at", res.Session.AccessToken)
	assert.Equal(t, "rt", res.Session.RefreshToken)
	assert.True(t, res.User.EmailConfirmed())
}

func TestSignIn_ProviderRejects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		writeBody(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.SignIn(context.Background(), "a@x.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrProvider))
	assert.Equal(t, "Invalid login credentials", err.Error())

	var perr *identity.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.Status)
}

func TestSignIn_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{"access_token":"at","token_type":"bearer","user":{"id":"sub-1","email":"a@x.com"}}`)
	})
	c := newTestClient(t, mux)

	res, err := c.SignIn(context.Background(), "a@x.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", res.User.ID)
	assert.Equal(t, "at", res.Session.AccessToken)
}

func TestSignOut_SendsUserToken(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "Bearer user-access-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SignOut(context.Background(), "user-access-token"))
	assert.True(t, called)
}

func TestSignOut_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	c, err := New(Config{URL: srv.URL, AnonKey: anonKey}, srv.Client())
	require.NoError(t, err)
	srv.Close()

	err = c.SignOut(context.Background(), "token")
	assert.True(t, errors.Is(err, apperror.ErrProvider))
}

func TestGetUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer google-session", r.Header.Get("Authorization"))
		writeBody(w, http.StatusOK, `{"id":"sub-g","email":"g@x.com","user_metadata":{"full_name":"Gee","avatar_url":"https://img/g.png"}}`)
	})
	c := newTestClient(t, mux)

	u, err := c.GetUser(context.Background(), "google-session")
	require.NoError(t, err)
	assert.Equal(t, "sub-g", u.ID)
	assert.Equal(t, "Gee", u.UserMetadata.DisplayName())
	assert.Equal(t, "https://img/g.png", u.UserMetadata.AvatarURL)
}

func TestGetUserBySubjectID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/admin/users/sub-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+serviceKey, r.Header.Get("Authorization"))
		writeBody(w, http.StatusOK, `{"id":"sub-1","email":"a@x.com","email_confirmed_at":"2026-01-02T03:04:05Z"}`)
	})
	mux.HandleFunc("/auth/v1/admin/users/missing", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusNotFound, `{"code":404,"msg":"User not found"}`)
	})
	c := newTestClient(t, mux)

	u, err := c.GetUserBySubjectID(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.True(t, u.EmailConfirmed())

	u, err = c.GetUserBySubjectID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestGetUserBySubjectID_NeedsServiceRoleKey(t *testing.T) {
	c, err := New(Config{URL: "https://project.supabase.co", AnonKey: anonKey}, nil)
	require.NoError(t, err)

	_, err = c.GetUserBySubjectID(context.Background(), "sub-1")
	assert.True(t, errors.Is(err, apperror.ErrProvider))
}

func TestErrorMessage_Fallbacks(t *testing.T) {
	assert.Equal(t, "User already registered", errorMessage([]byte(`{"msg":"User already registered"}`), 422))
	assert.Equal(t, "boom", errorMessage([]byte(`{"message":"boom"}`), 500))
	assert.Equal(t, "Bad Gateway", errorMessage([]byte(`<html>`), http.StatusBadGateway))
}
