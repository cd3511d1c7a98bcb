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

// Package devauth is an in-memory stand-in for the EventDuniya
// authentication service. It speaks the same wire contract as the real
// service and is meant for integration tests and local development only.
package devauth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eventduniya/authsession/internal/audit"
	"github.com/eventduniya/authsession/internal/config"
	"github.com/eventduniya/authsession/internal/observability/logger"
)

// Server holds the stub backend state and its HTTP handlers
type Server struct {
	cfg     config.DevServerConfig
	store   *Store
	hasher  *PasswordHasher
	tokens  *TokenIssuer
	limiter *RateLimiter
	audit   audit.Logger
	log     *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l.With(logger.Component("devauth")) }
}

// WithPasswordHasher replaces the default Argon2id profile
func WithPasswordHasher(h *PasswordHasher) Option {
	return func(s *Server) { s.hasher = h }
}

// New creates a server with an empty user store
func New(cfg config.DevServerConfig, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   NewStore(),
		hasher:  DefaultPasswordHasher(),
		tokens:  NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		audit:   audit.Nop{},
		log:     slog.Default().With(logger.Component("devauth")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the account store, for seeding
func (s *Server) Store() *Store {
	return s.store
}

// Close releases background resources
func (s *Server) Close() {
	s.limiter.Stop()
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(s.limiter))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "devauth",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", s.signup)
		r.Post("/login", s.login)
		r.Post("/google", s.google)
		r.Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)
		r.With(s.requireBearer).Get("/me", s.me)
	})

	return r
}
