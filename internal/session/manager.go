// Copyright 2026 The EventDuniya Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventduniya/authsession/internal/audit"
	"github.com/eventduniya/authsession/internal/observability/logger"
	"github.com/eventduniya/authsession/internal/observability/metrics"
)

const (
	// DefaultRefreshMargin is how long before expiry the renewal fires.
	DefaultRefreshMargin = 10 * time.Second

	// MinRenewalDelay is the shortest wait between a grant and its renewal.
	MinRenewalDelay = time.Second
)

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRefreshMargin sets how long before expiry the renewal fires
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithTracer sets the tracer used for refresh and sign-in spans
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithInstruments sets the metric instruments
func WithInstruments(i *metrics.SessionInstruments) Option {
	return func(m *Manager) { m.instruments = i }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager is the single authoritative holder of authentication state.
//
// Every mutation goes through Login, Logout, UpdateUser or SetStatus and is
// applied under one lock. At most one renewal timer is pending at any time.
// Login and Logout advance the generation; a refresh whose generation was
// superseded while it was in flight is discarded.
type Manager struct {
	backend     Backend
	clock       Clock
	margin      time.Duration
	audit       audit.Logger
	tracer      trace.Tracer
	instruments *metrics.SessionInstruments
	log         *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	state      Snapshot
	generation uint64
	timer      Timer
	closed     bool
	subs       map[uint64]chan Snapshot
	nextSub    uint64
}

// New creates the session manager. The session starts empty with status
// pending until Start resolves the initial silent refresh.
func New(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		clock:   WallClock(),
		margin:  DefaultRefreshMargin,
		audit:   audit.Nop{},
		state:   Snapshot{Status: StatusPending},
		subs:    make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/eventduniya/authsession/internal/session")
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With(logger.Component("session"))
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start performs the startup silent refresh and returns once it resolved.
func (m *Manager) Start(ctx context.Context) {
	m.Refresh(ctx)
}

// Close tears the manager down: the pending renewal is cancelled and no
// further renewal is scheduled. Subscriber channels are closed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.cancel()
}

// Snapshot returns the current session state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel receiving the latest state after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. Call cancel to stop receiving.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Login replaces the session wholesale and schedules its renewal.
func (m *Manager) Login(user User, accessToken string, expiresAt time.Time) error {
	if accessToken == "" || expiresAt.IsZero() {
		return ErrIncompleteGrant
	}

	m.mu.Lock()
	gen := m.loginLocked(Grant{User: user, AccessToken: accessToken, ExpiresAt: expiresAt})
	m.mu.Unlock()

	m.recordLogin(m.baseCtx, user, expiresAt, gen)
	return nil
}

// Logout clears the session and cancels the pending renewal. Calling it on
// an empty session changes nothing observable.
func (m *Manager) Logout() {
	m.mu.Lock()
	prev := m.logoutLocked()
	m.mu.Unlock()

	if prev.IsAuthenticated() {
		m.recordLogout(m.baseCtx, prev)
	}
}

// UpdateUser replaces only the profile record. It fails with
// ErrNotAuthenticated when no session is active.
func (m *Manager) UpdateUser(user User) error {
	m.mu.Lock()
	if !m.state.IsAuthenticated() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.state.User = user
	m.publishLocked()
	m.mu.Unlock()

	m.instruments.RecordTransition(m.baseCtx, "user_updated")
	m.audit.Log(m.baseCtx, audit.Event{
		Type:     audit.TypeUserUpdated,
		ActorID:  actor(user),
		Resource: "session",
	})
	return nil
}

// SetStatus sets the status without touching any other field
func (m *Manager) SetStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == status {
		return nil
	}
	m.state.Status = status
	m.publishLocked()
	return nil
}

// Refresh performs one silent refresh. A grant logs the session in, a
// no-session answer or any failure logs it out. It never sets
// StatusFailed and never returns an error.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	gen := m.beginRefreshLocked()
	m.mu.Unlock()

	m.refresh(ctx, gen)
}

// beginRefreshLocked marks the session pending and returns the generation
// the refresh result belongs to. Callers hold m.mu.
func (m *Manager) beginRefreshLocked() uint64 {
	if m.state.Status != StatusPending {
		m.state.Status = StatusPending
		m.publishLocked()
	}
	return m.generation
}

// refresh asks the backend for a grant on behalf of generation gen and
// applies the answer only if gen is still current.
func (m *Manager) refresh(ctx context.Context, gen uint64) {
	ctx, span := m.tracer.Start(ctx, "session.refresh")
	defer span.End()

	start := m.clock.Now()
	grant, err := m.backend.Refresh(ctx)
	if err == nil {
		err = grant.Validate()
	}
	elapsed := m.clock.Now().Sub(start)

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		m.log.DebugContext(ctx, "discarding superseded refresh result", logger.Generation(gen))
		m.instruments.RecordRefresh(ctx, metrics.OutcomeDiscarded, elapsed)
		m.audit.Log(ctx, audit.Event{
			Type:     audit.TypeRefreshDiscarded,
			Resource: "session",
			Metadata: map[string]any{"generation": gen},
		})
		return
	}

	if err == nil {
		newGen := m.loginLocked(grant)
		m.mu.Unlock()

		m.instruments.RecordRefresh(ctx, metrics.OutcomeSucceeded, elapsed)
		m.audit.Log(ctx, audit.Event{
			Type:     audit.TypeRefreshSucceeded,
			ActorID:  actor(grant.User),
			Resource: "session",
		})
		m.recordLogin(ctx, grant.User, grant.ExpiresAt, newGen)
		return
	}

	prev := m.logoutLocked()
	m.mu.Unlock()

	if errors.Is(err, ErrNoSession) {
		m.log.DebugContext(ctx, "no session to restore")
		m.instruments.RecordRefresh(ctx, metrics.OutcomeNoSession, elapsed)
		m.audit.Log(ctx, audit.Event{Type: audit.TypeRefreshNoSession, Resource: "session"})
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		m.log.WarnContext(ctx, "silent refresh failed, signing out", logger.Error(err))
		m.instruments.RecordRefresh(ctx, metrics.OutcomeFailed, elapsed)
		m.audit.Log(ctx, audit.Event{
			Type:     audit.TypeRefreshFailed,
			ActorID:  actor(prev.User),
			Resource: "session",
			Metadata: map[string]any{"reason": err.Error()},
		})
	}
	if prev.IsAuthenticated() {
		m.recordLogout(ctx, prev)
	}
}

// SignIn authenticates interactively with username and password
func (m *Manager) SignIn(ctx context.Context, creds Credentials) error {
	return m.authenticate(ctx, "sign_in", creds.Username, func(ctx context.Context) (Grant, error) {
		return m.backend.Login(ctx, creds)
	})
}

// SignUp registers a new account and signs it in
func (m *Manager) SignUp(ctx context.Context, reg Registration) error {
	return m.authenticate(ctx, "sign_up", reg.Username, func(ctx context.Context) (Grant, error) {
		return m.backend.Signup(ctx, reg)
	})
}

// SignInWithGoogle signs in with a Google identity credential
func (m *Manager) SignInWithGoogle(ctx context.Context, credential string) error {
	return m.authenticate(ctx, "sign_in_google", "", func(ctx context.Context) (Grant, error) {
		return m.backend.Google(ctx, credential)
	})
}

// SignOut notifies the backend and clears the session whatever the
// notification's outcome.
func (m *Manager) SignOut(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.sign_out")
	defer span.End()

	if token := m.Snapshot().AccessToken; token != "" {
		if err := m.backend.Logout(ctx, token); err != nil {
			span.RecordError(err)
			m.log.WarnContext(ctx, "logout notification failed", logger.Error(err))
		}
	}
	m.Logout()
}

func (m *Manager) authenticate(ctx context.Context, op, who string, call func(context.Context) (Grant, error)) error {
	ctx, span := m.tracer.Start(ctx, "session."+op)
	defer span.End()

	_ = m.SetStatus(StatusPending)

	grant, err := call(ctx)
	if err == nil {
		err = grant.Validate()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		_ = m.SetStatus(StatusFailed)
		m.log.InfoContext(ctx, "authentication attempt failed", logger.Operation(op), logger.Error(err))
		m.audit.Log(ctx, audit.Event{
			Type:     audit.TypeSignInFailed,
			ActorID:  who,
			Resource: "session",
			Metadata: map[string]any{"operation": op, "reason": err.Error()},
		})
		return fmt.Errorf("%s: %w", op, err)
	}

	return m.Login(grant.User, grant.AccessToken, grant.ExpiresAt)
}

// loginLocked installs g as the session. Callers hold m.mu.
func (m *Manager) loginLocked(g Grant) uint64 {
	m.generation++
	m.state = Snapshot{
		User:        g.User,
		AccessToken: g.AccessToken,
		ExpiresAt:   g.ExpiresAt,
		Status:      StatusSucceeded,
	}
	m.scheduleLocked()
	m.publishLocked()
	return m.generation
}

// logoutLocked clears the session and returns the state it replaced.
// Callers hold m.mu.
func (m *Manager) logoutLocked() Snapshot {
	prev := m.state
	m.generation++
	m.state = Snapshot{Status: StatusIdle}
	m.stopTimerLocked()
	if prev != m.state {
		m.publishLocked()
	}
	return prev
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleLocked replaces any pending renewal with one firing margin before
// the current expiry.
func (m *Manager) scheduleLocked() {
	m.stopTimerLocked()
	if m.closed || !m.state.IsAuthenticated() {
		return
	}

	delay := renewalDelay(m.state.ExpiresAt.Sub(m.clock.Now()), m.margin)
	gen := m.generation
	m.timer = m.clock.AfterFunc(delay, func() { m.renew(gen) })
	m.log.Debug("renewal scheduled", logger.Delay(delay), logger.Generation(gen))
}

func (m *Manager) renew(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.beginRefreshLocked()
	m.mu.Unlock()

	m.refresh(m.baseCtx, gen)
}

// renewalDelay is remaining minus margin. A grant living no longer than
// margin renews halfway through its life, never sooner than MinRenewalDelay,
// so short-lived grants cannot drive back-to-back refreshes.
func renewalDelay(remaining, margin time.Duration) time.Duration {
	delay := remaining - margin
	if remaining <= margin {
		delay = remaining / 2
	}
	if delay < MinRenewalDelay {
		delay = MinRenewalDelay
	}
	return delay
}

// publishLocked hands the current state to every subscriber, replacing an
// unread older snapshot. Callers hold m.mu.
func (m *Manager) publishLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- m.state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m.state:
		default:
		}
	}
}

func (m *Manager) recordLogin(ctx context.Context, user User, expiresAt time.Time, gen uint64) {
	m.log.InfoContext(ctx, "session established",
		logger.Username(user.Username),
		logger.ExpiresAt(expiresAt),
		logger.Generation(gen),
	)
	m.instruments.RecordTransition(ctx, "login")
	m.audit.Log(ctx, audit.Event{
		Type:     audit.TypeLogin,
		ActorID:  actor(user),
		Resource: "session",
		Metadata: map[string]any{
			"expires_at": expiresAt.Format(time.RFC3339),
			"generation": gen,
		},
	})
}

func (m *Manager) recordLogout(ctx context.Context, prev Snapshot) {
	m.log.InfoContext(ctx, "session cleared", logger.Username(prev.User.Username), logger.Status(string(prev.Status)))
	m.instruments.RecordTransition(ctx, "logout")
	m.audit.Log(ctx, audit.Event{
		Type:     audit.TypeLogout,
		ActorID:  actor(prev.User),
		Resource: "session",
	})
}

func actor(u User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}
