package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/eventduniya/authsession/internal/audit"
	"github.com/eventduniya/authsession/internal/authapi"
	"github.com/eventduniya/authsession/internal/observability/logger"
	"github.com/eventduniya/authsession/internal/session"
)

// newSession wires a manager to the configured authentication service.
// The caller owns the manager and must Close it.
func newSession() (*session.Manager, *authapi.Client, error) {
	client, err := authapi.New(authapi.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		LogoutAttempts: cfg.API.LogoutAttempts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	if refreshCookie != "" {
		client.SetRefreshCredential(cfg.API.RefreshCookie, refreshCookie)
	}

	instruments, err := meter.SessionInstruments()
	if err != nil {
		slog.Warn("session metrics disabled", logger.Error(err))
	}

	m := session.New(client,
		session.WithRefreshMargin(cfg.Session.RefreshMargin),
		session.WithAuditLogger(audit.NewSlogLogger()),
		session.WithTracer(tracer.GetTracer()),
		session.WithInstruments(instruments),
	)
	return m, client, nil
}

// follow reports every session change until ctx is cancelled or the
// manager is closed.
func follow(ctx context.Context, out io.Writer, m *session.Manager) {
	updates, cancel := m.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			printSnapshot(out, snap)
		}
	}
}

func printSnapshot(out io.Writer, snap session.Snapshot) {
	if !snap.IsAuthenticated() {
		fmt.Fprintf(out, "not signed in (status %s)\n", snap.Status)
		return
	}

	who := snap.User.Username
	if snap.User.Role != "" {
		who = fmt.Sprintf("%s (%s)", who, snap.User.Role)
	}
	fmt.Fprintf(out, "signed in as %s, token valid until %s (status %s)\n",
		who, snap.ExpiresAt.Local().Format(time.DateTime), snap.Status)
}
