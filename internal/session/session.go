package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrNoSession        = errors.New("no session to restore")
	ErrMalformedGrant   = errors.New("malformed authentication payload")
	ErrIncompleteGrant  = errors.New("access token and expiry are required")
	ErrNotAuthenticated = errors.New("no active session")
	ErrInvalidStatus    = errors.New("invalid authentication status")
)

// Status reflects the last attempted authentication operation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Role of a platform account
type Role string

const (
	RoleUser   Role = "User"
	RoleArtist Role = "Artist"
)

// User is the profile record attached to a session
type User struct {
	ID       string `json:"_id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// IsZero reports whether the record carries no identity at all.
func (u User) IsZero() bool {
	return u.ID == "" && u.Username == "" && u.Email == ""
}

// Grant is the result of a successful authentication call.
type Grant struct {
	User        User
	AccessToken string
	ExpiresAt   time.Time
}

// Validate checks that the grant can become a session.
func (g Grant) Validate() error {
	if g.User.IsZero() {
		return fmt.Errorf("%w: missing user", ErrMalformedGrant)
	}
	if g.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrMalformedGrant)
	}
	if g.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiresAt", ErrMalformedGrant)
	}
	return nil
}

// Snapshot is an immutable view of the session state.
type Snapshot struct {
	User        User
	AccessToken string
	ExpiresAt   time.Time
	Status      Status
}

// IsAuthenticated is true iff both a token and its expiry are held.
func (s Snapshot) IsAuthenticated() bool {
	return s.AccessToken != "" && !s.ExpiresAt.IsZero()
}

// IsExpired checks if the held token is past its expiry at now.
func (s Snapshot) IsExpired(now time.Time) bool {
	return s.IsAuthenticated() && !now.Before(s.ExpiresAt)
}

// Credentials for an interactive username/password sign-in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the signup body. Artist accounts fill in the optional
// profile fields.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`

	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	Pincode     string `json:"pincode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Bio         string `json:"bio,omitempty"`
	VideoLink1  string `json:"videoLink1,omitempty"`
	VideoLink2  string `json:"videoLink2,omitempty"`
	VideoLink3  string `json:"videoLink3,omitempty"`
	Instagram   string `json:"instagram,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	Youtube     string `json:"youtube,omitempty"`
	Facebook    string `json:"facebook,omitempty"`
	Tiktok      string `json:"tiktok,omitempty"`
}

// Backend defines the authentication service the manager talks to
type Backend interface {
	// Refresh exchanges the transport-level refresh credential for a new
	// grant. Returns ErrNoSession when the service has nothing to restore.
	Refresh(ctx context.Context) (Grant, error)

	// Login authenticates with username and password
	Login(ctx context.Context, creds Credentials) (Grant, error)

	// Signup registers a new account and signs it in
	Signup(ctx context.Context, reg Registration) (Grant, error)

	// Google signs in with a Google identity credential
	Google(ctx context.Context, credential string) (Grant, error)

	// Logout notifies the service that the session ended
	Logout(ctx context.Context, accessToken string) error
}
