package devauth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventduniya/authsession/internal/session"
)

// Store errors
var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownRefresh     = errors.New("unknown or expired refresh credential")
	ErrUserNotFound       = errors.New("user not found")
)

// Account is a registered user together with its password hash. Google
// accounts have no password.
type Account struct {
	User         session.User
	PasswordHash string
	Profile      session.Registration
	CreatedAt    time.Time
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// Store keeps accounts and refresh credentials in memory
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account // by user id
	byName   map[string]string   // lowercased username -> user id
	refresh  map[string]refreshRecord
	now      func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*Account),
		byName:   make(map[string]string),
		refresh:  make(map[string]refreshRecord),
		now:      time.Now,
	}
}

// CreateAccount registers a new account. Usernames are unique ignoring case.
func (s *Store) CreateAccount(reg session.Registration, passwordHash string) (session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(reg.Username)
	if _, exists := s.byName[key]; exists {
		return session.User{}, ErrUserExists
	}

	role := reg.Role
	if role == "" {
		role = session.RoleUser
	}
	u := session.User{
		ID:       uuid.NewString(),
		Username: reg.Username,
		Email:    reg.Email,
		Role:     role,
	}
	reg.Password = ""
	s.accounts[u.ID] = &Account{
		User:         u,
		PasswordHash: passwordHash,
		Profile:      reg,
		CreatedAt:    s.now(),
	}
	s.byName[key] = u.ID
	return u, nil
}

// UpsertExternal returns the account named username, creating a
// password-less one when absent. The bool reports whether it was created.
func (s *Store) UpsertExternal(username, email string) (session.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if id, ok := s.byName[key]; ok {
		return s.accounts[id].User, false
	}

	u := session.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Role:     session.RoleUser,
	}
	s.accounts[u.ID] = &Account{User: u, CreatedAt: s.now()}
	s.byName[key] = u.ID
	return u, true
}

// FindByUsername looks an account up by username
func (s *Store) FindByUsername(username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	acct := *s.accounts[id]
	return &acct, nil
}

// User returns the profile of the account with the given id
func (s *Store) User(id string) (session.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return session.User{}, ErrUserNotFound
	}
	return acct.User, nil
}

// IssueRefresh mints a refresh credential for userID valid for ttl
func (s *Store) IssueRefresh(userID string, ttl time.Duration) (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := uuid.NewString()
	expiresAt := s.now().Add(ttl)
	s.refresh[value] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return value, expiresAt
}

// RotateRefresh consumes value and issues its replacement once mint
// succeeded for the credential's owner. Expired and unknown credentials
// yield ErrUnknownRefresh. When mint fails value stays valid.
func (s *Store) RotateRefresh(value string, ttl time.Duration, mint func(session.User) error) (session.User, string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[value]
	now := s.now()
	if !ok || !now.Before(rec.expiresAt) {
		delete(s.refresh, value)
		return session.User{}, "", time.Time{}, ErrUnknownRefresh
	}

	acct, ok := s.accounts[rec.userID]
	if !ok {
		delete(s.refresh, value)
		return session.User{}, "", time.Time{}, ErrUnknownRefresh
	}

	if err := mint(acct.User); err != nil {
		return session.User{}, "", time.Time{}, err
	}

	delete(s.refresh, value)
	next := uuid.NewString()
	expiresAt := now.Add(ttl)
	s.refresh[next] = refreshRecord{userID: rec.userID, expiresAt: expiresAt}
	return acct.User, next, expiresAt, nil
}

// RevokeRefresh forgets value. It reports whether the credential existed.
func (s *Store) RevokeRefresh(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[value]
	delete(s.refresh, value)
	return ok
}
