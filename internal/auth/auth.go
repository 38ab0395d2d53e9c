// Package auth builds the ambient credentials attached to the stream
// handshake: a bearer token and/or a session cookie.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrNoCredentials is returned when neither a token nor a cookie is configured.
var ErrNoCredentials = errors.New("no credentials configured")

// Credentials holds the handshake credentials.
type Credentials struct {
	Token  string // Bearer token, sent as Authorization
	Cookie string // Raw Cookie header value, e.g. "session=abc"
}

// LoadCredentials resolves credentials from an inline token, a token file
// and a cookie. An inline token takes precedence over the file.
func LoadCredentials(token, tokenPath, cookie string) (*Credentials, error) {
	if token == "" && tokenPath != "" {
		t, err := LoadToken(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("load token: %w", err)
		}
		token = t
	}

	if token == "" && cookie == "" {
		return nil, ErrNoCredentials
	}

	return &Credentials{
		Token:  token,
		Cookie: strings.TrimSpace(cookie),
	}, nil
}

// LoadToken reads a token file, trimming surrounding whitespace.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Header returns the handshake headers. A nil receiver yields only the
// User-Agent.
func (c *Credentials) Header(userAgent string) http.Header {
	h := http.Header{}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	if c == nil {
		return h
	}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if c.Cookie != "" {
		h.Set("Cookie", c.Cookie)
	}
	return h
}
