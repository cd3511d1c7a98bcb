package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventduniya/authsession/internal/config"
	"github.com/eventduniya/authsession/internal/devauth"
)

func startDevauth(t *testing.T) string {
	t.Helper()
	srv := devauth.New(config.DevServerConfig{
		TokenTTL:       15 * time.Minute,
		RefreshTTL:     time.Hour,
		CookieName:     "refreshToken",
		JWTSecret:      "cli-secret",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	},
		devauth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		devauth.WithPasswordHasher(devauth.NewPasswordHasher(1024, 1, 1, 16, 32)),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts.URL
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestPurpose: Drives the CLI commands against the stub service.
// Scope: Integration Test
// Expected: signup and login print the signed-in user; a bad password fails; logout
// without a credential has nothing to end.
// Test Case ID: CLI-01
func TestCLI(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	url := startDevauth(t)

	out, err := run(t, "", "signup", "--api-url", url, "-u", "erin", "-e", "erin@example.com", "-p", "pw-123456", "--artist", "--city", "Pune")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as erin (Artist)")

	out, err = run(t, "pw-123456\n", "login", "--api-url", url, "-u", "erin")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as erin")

	_, err = run(t, "", "login", "--api-url", url, "-u", "erin", "-p", "wrong")
	assert.ErrorContains(t, err, "Invalid credentials")

	out, err = run(t, "", "logout", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "no session to end")
}

func TestReadLine(t *testing.T) {
	line, err := readLine(strings.NewReader("secret\r\nrest"))
	require.NoError(t, err)
	assert.Equal(t, "secret", line)

	line, err = readLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", line)

	_, err = readLine(strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoginHelp_ExplainsCookieLifetime(t *testing.T) {
	t.Cleanup(func() { _ = loginCmd.Flags().Set("help", "false") })

	out, err := run(t, "", "login", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped when the command")
	assert.Contains(t, out, "--refresh-cookie")
}
