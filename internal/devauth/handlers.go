package devauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eventduniya/authsession/internal/audit"
	"github.com/eventduniya/authsession/internal/observability/logger"
	"github.com/eventduniya/authsession/internal/session"
)

const (
	maxBodyBytes = 1 << 20
	isoMillis    = "2006-01-02T15:04:05.000Z07:00"
)

// grantResponse mirrors the service: refresh answers carry accessToken,
// every other grant carries token.
type grantResponse struct {
	User        session.User `json:"user"`
	Token       string       `json:"token,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
	ExpiresAt   string       `json:"expiresAt"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "devauth",
	})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req session.Registration
	if !decodeBody(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		respondError(w, http.StatusBadRequest, "Username, email and password are required")
		return
	case !strings.Contains(req.Email, "@"):
		respondError(w, http.StatusBadRequest, "Invalid email address")
		return
	case req.Role != "" && req.Role != session.RoleUser && req.Role != session.RoleArtist:
		respondError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to hash password", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user, err := s.store.CreateAccount(req, hash)
	if errors.Is(err, ErrUserExists) {
		respondError(w, http.StatusConflict, "Username already taken")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to create user", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	s.audit.Log(r.Context(), audit.Event{
		Type:      audit.TypeUserCreated,
		ActorID:   user.ID,
		Resource:  "user",
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"username": user.Username, "role": string(user.Role)},
	})

	s.issueGrant(w, r, user, http.StatusCreated)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req session.Credentials
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.authenticate(req)
	if err != nil {
		s.audit.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  req.Username,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": "invalid_credentials"},
		})
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.issueGrant(w, r, user, http.StatusOK)
}

func (s *Server) authenticate(creds session.Credentials) (session.User, error) {
	acct, err := s.store.FindByUsername(creds.Username)
	if err != nil || acct.PasswordHash == "" {
		return session.User{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(creds.Password, acct.PasswordHash)
	if err != nil || !ok {
		return session.User{}, ErrInvalidCredentials
	}
	return acct.User, nil
}

// google trusts any non-empty credential as a verified Google subject. An
// email-shaped credential becomes the account email and its local part the
// username.
func (s *Server) google(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		respondError(w, http.StatusBadRequest, "Google credential is required")
		return
	}

	username, email := credential, ""
	if local, _, ok := strings.Cut(credential, "@"); ok && local != "" {
		username, email = local, credential
	}

	user, created := s.store.UpsertExternal(username, email)
	if created {
		s.audit.Log(r.Context(), audit.Event{
			Type:      audit.TypeUserCreated,
			ActorID:   user.ID,
			Resource:  "user",
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"username": user.Username, "provider": "google"},
		})
	}

	s.issueGrant(w, r, user, http.StatusOK)
}

// refresh answers 204 when there is nothing to restore, otherwise rotates
// the refresh cookie and returns a fresh access token.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	value := s.refreshCookie(r)
	if value == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var (
		token     string
		expiresAt time.Time
	)
	user, next, refreshExpiry, err := s.store.RotateRefresh(value, s.cfg.RefreshTTL, func(u session.User) error {
		var err error
		token, expiresAt, err = s.tokens.Issue(u)
		return err
	})
	if errors.Is(err, ErrUnknownRefresh) {
		s.clearRefreshCookie(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to issue access token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	s.setRefreshCookie(w, next, refreshExpiry)
	s.audit.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   user.ID,
		Resource:  "refresh",
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"expires_at": expiresAt},
	})

	respondJSON(w, http.StatusOK, grantResponse{
		User:        user,
		AccessToken: token,
		ExpiresAt:   expiresAt.UTC().Format(isoMillis),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if value := s.refreshCookie(r); value != "" && s.store.RevokeRefresh(value) {
		event := audit.Event{
			Type:      audit.TypeTokenRevoked,
			Resource:  "refresh",
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}
		if token, ok := bearerToken(r); ok {
			if claims, err := s.tokens.Verify(token); err == nil {
				event.ActorID = claims.Subject
			}
		}
		s.audit.Log(r.Context(), event)
	}

	s.clearRefreshCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	user, err := s.store.User(claims.Subject)
	if err != nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

// issueGrant mints the access token and refresh cookie for user and writes
// the grant body.
func (s *Server) issueGrant(w http.ResponseWriter, r *http.Request, user session.User, status int) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to issue access token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	value, refreshExpiry := s.store.IssueRefresh(user.ID, s.cfg.RefreshTTL)
	s.setRefreshCookie(w, value, refreshExpiry)

	s.audit.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		ActorID:   user.ID,
		Resource:  "session",
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"expires_at": expiresAt},
	})

	respondJSON(w, status, grantResponse{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(isoMillis),
	})
}

// Cookie helpers

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		Secure:   s.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   s.cfg.CookieSecure,
		HttpOnly: true,
	})
}

func (s *Server) refreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes {"error":{"message":...}}
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
