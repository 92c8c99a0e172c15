// Package session persists portal authentication state per credential.
//
// A session is keyed by the credential fingerprint and stored as one JSON file.
// Sessions are created on the first successful handshake and reused until a
// caller invalidates them after the portal rejects their cookies.
package session

import (
	"errors"
	"net/http"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a fingerprint.
var ErrSessionNotFound = errors.New("session not found")

// Cookie is a persisted portal cookie. Attributes other than name and value are
// re-derived by the cookie jar on each request.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session is the authentication state for one credential.
type Session struct {
	Fingerprint string    `json:"fingerprint"`
	Cookies     []Cookie  `json:"cookies"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HTTPCookies converts the stored cookies for use with net/http.
func (s *Session) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// SetHTTPCookies replaces the stored cookies and reports whether anything changed.
// An empty list leaves the session untouched.
func (s *Session) SetHTTPCookies(cookies []*http.Cookie) bool {
	if len(cookies) == 0 {
		return false
	}
	next := fromHTTP(cookies)
	if equalCookies(s.Cookies, next) {
		return false
	}
	s.Cookies = next
	return true
}

func fromHTTP(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func equalCookies(a, b []Cookie) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
