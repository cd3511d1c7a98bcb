package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventduniya/authsession/internal/session"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		LogoutAttempts: 3,
		LogoutDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost:5000/api"})
	assert.Error(t, err)
}

// TestPurpose: Validates that a 200 refresh answer is decoded into a grant and that the refresh cookie is sent.
// Scope: Unit Test
// Expected: The grant carries user, accessToken and the parsed expiry.
// Test Case ID: API-01
func TestClient_Refresh_OK(t *testing.T) {
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathRefresh, r.URL.Path)
		cookie, err := r.Cookie("refreshToken")
		if assert.NoError(t, err) {
			assert.Equal(t, "rt-1", cookie.Value)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        map[string]any{"_id": "u1", "username": "alice", "role": "User"},
			"accessToken": "abc",
			"expiresAt":   expires.Format(time.RFC3339),
		})
	}))
	c.SetRefreshCredential("refreshToken", "rt-1")

	g, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "alice", g.User.Username)
	assert.Equal(t, "u1", g.User.ID)
	assert.Equal(t, session.RoleUser, g.User.Role)
	assert.Equal(t, "abc", g.AccessToken)
	assert.True(t, expires.Equal(g.ExpiresAt))
}

func TestClient_Refresh_NoContent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestClient_Refresh_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]string{"message": "db down"}})
	}))

	_, err := c.Refresh(context.Background())

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "db down", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.NotErrorIs(t, err, session.ErrNoSession)
}

func TestClient_Refresh_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	srv.Close()

	_, err = c.Refresh(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNoSession)
}

func TestClient_Refresh_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"missing token", `{"user":{"username":"alice"},"expiresAt":"2026-03-01T13:00:00Z"}`},
		{"missing user", `{"accessToken":"abc","expiresAt":"2026-03-01T13:00:00Z"}`},
		{"empty user", `{"user":{},"accessToken":"abc","expiresAt":"2026-03-01T13:00:00Z"}`},
		{"missing expiry", `{"user":{"username":"alice"},"accessToken":"abc"}`},
		{"null expiry", `{"user":{"username":"alice"},"accessToken":"abc","expiresAt":null}`},
		{"bad expiry", `{"user":{"username":"alice"},"accessToken":"abc","expiresAt":"tomorrow"}`},
		{"negative epoch", `{"user":{"username":"alice"},"accessToken":"abc","expiresAt":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := c.Refresh(context.Background())
			assert.ErrorIs(t, err, session.ErrMalformedGrant)
		})
	}
}

func TestClient_Refresh_EpochMillisExpiry(t *testing.T) {
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        map[string]any{"username": "alice"},
			"accessToken": "abc",
			"expiresAt":   expires.UnixMilli(),
		})
	}))

	g, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, expires.Equal(g.ExpiresAt))
}

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLogin:
			var creds session.Credentials
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			if creds.Password != "s3cret" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"message": "Invalid credentials"}})
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "rt-login", Path: "/"})
			writeJSON(w, http.StatusOK, map[string]any{
				"user":      map[string]any{"username": creds.Username},
				"token":     "tok-login",
				"expiresAt": "2026-03-01T13:00:00.000Z",
			})
		case PathRefresh:
			cookie, err := r.Cookie("refreshToken")
			if err != nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"user":        map[string]any{"username": "alice"},
				"accessToken": "from-" + cookie.Value,
				"expiresAt":   "2026-03-01T14:00:00Z",
			})
		default:
			http.NotFound(w, r)
		}
	}))

	_, err := c.Login(context.Background(), session.Credentials{Username: "alice", Password: "wrong"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid credentials", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	g, err := c.Login(context.Background(), session.Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "tok-login", g.AccessToken)
	assert.Equal(t, "alice", g.User.Username)

	// the refresh cookie set by login rides along on the next refresh
	g, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-rt-login", g.AccessToken)
}

func TestClient_Signup_DefaultsRole(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSignup, r.URL.Path)
		var reg session.Registration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, session.RoleUser, reg.Role)
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":      map[string]any{"username": reg.Username, "role": reg.Role},
			"token":     "tok",
			"expiresAt": "2026-03-01T13:00:00Z",
		})
	}))

	g, err := c.Signup(context.Background(), session.Registration{Username: "bob", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, session.RoleUser, g.User.Role)
}

func TestClient_Google(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathGoogle, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "google-jwt", body["credential"])
		writeJSON(w, http.StatusOK, map[string]any{
			"user":      map[string]any{"username": "carol"},
			"token":     "tok",
			"expiresAt": "2026-03-01T13:00:00Z",
		})
	}))

	g, err := c.Google(context.Background(), "google-jwt")
	require.NoError(t, err)
	assert.Equal(t, "carol", g.User.Username)
}

func TestClient_Logout(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
		}))

		require.NoError(t, c.Logout(context.Background(), "tok"))
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		}))

		err := c.Logout(context.Background(), "tok")
		assert.True(t, IsStatus(err, http.StatusUnauthorized))
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))

		err := c.Logout(context.Background(), "tok")
		assert.True(t, IsStatus(err, http.StatusBadGateway))
		assert.EqualValues(t, 3, calls.Load())
	})
}

func TestClient_Me(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"username": "alice", "email": "alice@example.com"}})
	}))

	u, err := c.Me(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = c.Me(context.Background(), "other")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"Invalid credentials"}}`, "Invalid credentials"},
		{`{"error":"rate limit exceeded"}`, "rate limit exceeded"},
		{`{"message":"Username taken"}`, "Username taken"},
		{`not json`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.body, `"`, ""), func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}
