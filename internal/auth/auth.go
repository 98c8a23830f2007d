// Package auth holds the client's credentials: structural token checks and
// the key-value stores that persist the token and user record across restarts.
package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrNoCredentials is returned by a CredentialStore that holds nothing.
var ErrNoCredentials = errors.New("no stored credentials")

// User is the signed-in user record saved alongside the token.
type User struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"` // customer, vendor, delivery, admin
}

// Credentials is what the login flow persists and the realtime channel reads.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Valid reports whether the token has the expected structure.
func (c Credentials) Valid() bool {
	return ValidTokenShape(c.Token)
}

// Header returns the HTTP headers that authenticate a request or websocket
// upgrade with these credentials.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// ValidTokenShape reports whether token is three non-empty, dot-separated
// base64url segments (header.payload.signature). The signature is not checked;
// the server does that during the handshake.
func ValidTokenShape(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p, "=")); err != nil {
			return false
		}
	}
	return true
}
