package portal

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// CredentialError represents a malformed credential URL.
type CredentialError struct {
	Message string
	Cause   error
}

func (e *CredentialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("credential error: %s", e.Message)
}

func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// AuthenticationError represents a failed portal handshake.
type AuthenticationError struct {
	StatusCode int
	Message    string
	PageTitle  string // title of the HTML page the portal answered with, if any
	Cause      error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed: " + e.Message
	if e.PageTitle != "" {
		msg += fmt.Sprintf(" (%s)", e.PageTitle)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// FetchErrorKind classifies a document download failure.
type FetchErrorKind string

const (
	// FetchHTTPStatus means the portal answered with a non-200 status
	FetchHTTPStatus FetchErrorKind = "http_status"
	// FetchTransport means the request never completed (network error or timeout)
	FetchTransport FetchErrorKind = "transport"
	// FetchInvalidFormat means the body is not a ZIP archive
	FetchInvalidFormat FetchErrorKind = "invalid_format"
)

// FetchError represents a failed document download.
type FetchError struct {
	TrackID    string
	Kind       FetchErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s (%s): %s: %v", e.TrackID, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s (%s): %s", e.TrackID, e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Unauthorized reports whether the portal rejected the session cookies.
func (e *FetchError) Unauthorized() bool {
	return e.Kind == FetchHTTPStatus &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Timeout reports whether the download failed because a deadline elapsed.
func (e *FetchError) Timeout() bool {
	var netErr net.Error
	return e.Kind == FetchTransport && errors.As(e.Cause, &netErr) && netErr.Timeout()
}
