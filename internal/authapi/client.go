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

// Package authapi is the HTTP client of the EventDuniya authentication
// service. The refresh credential travels in a cookie held by the client's
// jar; the access token is only ever sent as a bearer header on logout.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"github.com/eventduniya/authsession/internal/observability/logger"
	"github.com/eventduniya/authsession/internal/session"
)

// Endpoint paths
const (
	PathRefresh = "/api/auth/refresh"
	PathLogin   = "/api/auth/login"
	PathSignup  = "/api/auth/signup"
	PathGoogle  = "/api/auth/google"
	PathLogout  = "/api/auth/logout"
	PathMe      = "/api/auth/me"
)

// Config holds client configuration
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	LogoutAttempts uint
	// LogoutDelay is the base delay between logout notification attempts
	LogoutDelay time.Duration
	// Transport defaults to http.DefaultTransport
	Transport http.RoundTripper
}

// Client talks to the authentication service
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	logoutAttempts uint
	logoutDelay    time.Duration
}

var _ session.Backend = (*Client)(nil)

// New creates a new client
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: must be absolute", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	attempts := cfg.LogoutAttempts
	if attempts == 0 {
		attempts = 1
	}
	delay := cfg.LogoutDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logoutAttempts: attempts,
		logoutDelay:    delay,
	}, nil
}

// SetRefreshCredential seeds the jar with a refresh cookie, for processes
// resuming a session obtained elsewhere.
func (c *Client) SetRefreshCredential(name, value string) {
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
}

// Refresh exchanges the refresh cookie for a new grant
func (c *Client) Refresh(ctx context.Context) (session.Grant, error) {
	resp, err := c.do(ctx, http.MethodPost, PathRefresh, nil, "")
	if err != nil {
		return session.Grant{}, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return session.Grant{}, session.ErrNoSession
	case resp.StatusCode == http.StatusOK:
		return decodeGrant(resp.Body)
	default:
		return session.Grant{}, newError(resp)
	}
}

// Login authenticates with username and password
func (c *Client) Login(ctx context.Context, creds session.Credentials) (session.Grant, error) {
	return c.postGrant(ctx, PathLogin, creds)
}

// Signup registers a new user or artist account
func (c *Client) Signup(ctx context.Context, reg session.Registration) (session.Grant, error) {
	if reg.Role == "" {
		reg.Role = session.RoleUser
	}
	return c.postGrant(ctx, PathSignup, reg)
}

// Google exchanges a Google identity credential
func (c *Client) Google(ctx context.Context, credential string) (session.Grant, error) {
	return c.postGrant(ctx, PathGoogle, map[string]string{"credential": credential})
}

// Logout notifies the service that the session ended. Transport errors and
// 5xx answers are retried; 4xx answers are final.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return retry.Do(
		func() error {
			resp, err := c.do(ctx, http.MethodPost, PathLogout, struct{}{}, accessToken)
			if err != nil {
				return err
			}
			defer drain(resp)
			if resp.StatusCode/100 == 2 {
				return nil
			}
			apiErr := newError(resp)
			if resp.StatusCode < 500 {
				return retry.Unrecoverable(apiErr)
			}
			return apiErr
		},
		retry.Context(ctx),
		retry.Attempts(c.logoutAttempts),
		retry.Delay(c.logoutDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.DebugContext(ctx, "retrying logout notification",
				logger.Component("authapi"),
				slog.Uint64("attempt", uint64(n+1)),
				logger.Error(err),
			)
		}),
	)
}

// Me fetches the profile of the bearer of accessToken
func (c *Client) Me(ctx context.Context, accessToken string) (session.User, error) {
	resp, err := c.do(ctx, http.MethodGet, PathMe, nil, accessToken)
	if err != nil {
		return session.User{}, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return session.User{}, newError(resp)
	}

	var body struct {
		User *session.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.User{}, fmt.Errorf("%w: %v", session.ErrMalformedGrant, err)
	}
	if body.User == nil || body.User.IsZero() {
		return session.User{}, fmt.Errorf("%w: missing user", session.ErrMalformedGrant)
	}
	return *body.User, nil
}

func (c *Client) postGrant(ctx context.Context, path string, body any) (session.Grant, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return session.Grant{}, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return session.Grant{}, newError(resp)
	}
	return decodeGrant(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// drain discards the rest of the body so the connection can be reused
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// Error is a non-success answer from the authentication service
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth service responded %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *Error with the given status code
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func newError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	msg := errorMessage(data)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}

// errorMessage extracts the message from {"error":{"message":..}},
// {"error":".."} or {"message":".."} bodies.
func errorMessage(data []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(body.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	return body.Message
}
