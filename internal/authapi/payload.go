package authapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/eventduniya/authsession/internal/session"
)

// grantBody is the wire form of a successful authentication answer.
// Refresh answers name the credential accessToken, login-style answers
// name it token.
type grantBody struct {
	User        *session.User   `json:"user"`
	AccessToken string          `json:"accessToken"`
	Token       string          `json:"token"`
	ExpiresAt   json.RawMessage `json:"expiresAt"`
}

func decodeGrant(r io.Reader) (session.Grant, error) {
	var body grantBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return session.Grant{}, fmt.Errorf("%w: %v", session.ErrMalformedGrant, err)
	}

	token := body.AccessToken
	if token == "" {
		token = body.Token
	}

	expiresAt, err := parseExpiry(body.ExpiresAt)
	if err != nil {
		return session.Grant{}, err
	}

	var user session.User
	if body.User != nil {
		user = *body.User
	}

	g := session.Grant{
		User:        user,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}
	if err := g.Validate(); err != nil {
		return session.Grant{}, err
	}
	return g, nil
}

// parseExpiry accepts an ISO-8601 timestamp or Unix milliseconds
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: missing expiresAt", session.ErrMalformedGrant)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: expiresAt: %v", session.ErrMalformedGrant, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: expiresAt %q is not ISO-8601", session.ErrMalformedGrant, s)
		}
		return t, nil
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, fmt.Errorf("%w: expiresAt %s is neither a timestamp nor epoch milliseconds", session.ErrMalformedGrant, raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}
