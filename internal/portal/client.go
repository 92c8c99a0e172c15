// Package portal implements the DIAN document portal handshake: token
// authentication followed by ZIP bundle downloads that reuse the session cookies.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultAuthURL is the portal token authentication endpoint.
	DefaultAuthURL = "https://catalogo-vpfe.dian.gov.co/User/AuthToken"
	// DefaultDownloadURL is the portal bundle download endpoint.
	DefaultDownloadURL = "https://catalogo-vpfe.dian.gov.co/Document/DownloadZipFiles"

	// DefaultConnectTimeout bounds dialing and the TLS handshake.
	DefaultConnectTimeout = 15 * time.Second
	// DefaultRequestTimeout bounds a whole download.
	DefaultRequestTimeout = 120 * time.Second
	// DefaultAuthTimeout bounds the authentication request.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultUserAgent is sent on every portal request; the portal rejects non-browser agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	maxAuthPageBytes = 1 << 20
	maxBundleBytes   = 64 << 20
)

var zipSignature = []byte("PK")

// Options configures the portal client.
type Options struct {
	AuthURL        string
	DownloadURL    string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AuthTimeout    time.Duration
	UserAgent      string
}

// DefaultOptions returns the production portal endpoints and timeouts.
func DefaultOptions() *Options {
	return &Options{
		AuthURL:        DefaultAuthURL,
		DownloadURL:    DefaultDownloadURL,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		AuthTimeout:    DefaultAuthTimeout,
		UserAgent:      DefaultUserAgent,
	}
}

// AuthResult is the outcome of an authentication handshake.
type AuthResult struct {
	Success    bool
	StatusCode int
	Cookies    []*http.Cookie
}

// Download is a fetched bundle plus the cookies the portal holds after the request.
type Download struct {
	TrackID string
	Body    []byte
	Cookies []*http.Cookie
}

// Client talks to the portal. It keeps no cookie state of its own: cookies
// travel in and out of every call so the caller owns the session.
type Client struct {
	opts        Options
	authURL     *url.URL
	downloadURL *url.URL
	transport   http.RoundTripper
	logger      zerolog.Logger
}

// NewClient creates a portal client.
func NewClient(opts *Options, logger zerolog.Logger) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	defaults := DefaultOptions()
	if o.AuthURL == "" {
		o.AuthURL = defaults.AuthURL
	}
	if o.DownloadURL == "" {
		o.DownloadURL = defaults.DownloadURL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaults.ConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaults.RequestTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = defaults.AuthTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = defaults.UserAgent
	}

	authURL, err := parseEndpoint(o.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal auth URL: %w", err)
	}
	downloadURL, err := parseEndpoint(o.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal download URL: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   o.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   o.ConnectTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Client{
		opts:        o,
		authURL:     authURL,
		downloadURL: downloadURL,
		transport:   transport,
		logger:      logger.With().Str("component", "portal").Logger(),
	}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u, nil
}

// newHTTPClient returns a client with a fresh cookie jar. Redirects are followed
// and every hop records its cookies in the jar.
func (c *Client) newHTTPClient(timeout time.Duration) (*http.Client, *cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{
		Transport: c.transport,
		Jar:       jar,
		Timeout:   timeout,
	}, jar, nil
}

// AuthRequestURL builds the authentication URL for a credential. The base comes
// from configuration; only pk and token are taken from the credential.
func (c *Client) AuthRequestURL(cred Credential) string {
	u := *c.authURL
	query := u.Query()
	query.Set("pk", cred.PK())
	query.Set("token", cred.Token())
	u.RawQuery = query.Encode()
	return u.String()
}

// DownloadRequestURL builds the download URL for a track id.
func (c *Client) DownloadRequestURL(trackID string) string {
	u := *c.downloadURL
	query := u.Query()
	query.Set("trackId", trackID)
	u.RawQuery = query.Encode()
	return u.String()
}

// Authenticate performs the token handshake. Any transport failure or non-200
// answer yields Success=false together with an *AuthenticationError.
func (c *Client) Authenticate(ctx context.Context, cred Credential) (*AuthResult, error) {
	if cred.IsZero() {
		return &AuthResult{}, &AuthenticationError{Message: "credential is empty"}
	}

	httpClient, jar, err := c.newHTTPClient(c.opts.AuthTimeout)
	if err != nil {
		return &AuthResult{}, &AuthenticationError{Message: "failed to prepare request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AuthRequestURL(cred), nil)
	if err != nil {
		return &AuthResult{}, &AuthenticationError{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return &AuthResult{}, &AuthenticationError{Message: "portal request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	page, _ := io.ReadAll(io.LimitReader(resp.Body, maxAuthPageBytes))

	result := &AuthResult{StatusCode: resp.StatusCode}
	c.logger.Debug().
		Str("credential", cred.Redacted()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("portal authentication answered")

	if resp.StatusCode != http.StatusOK {
		return result, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("portal answered HTTP %d", resp.StatusCode),
			PageTitle:  DescribePage(page),
		}
	}

	result.Success = true
	result.Cookies = jar.Cookies(c.downloadURL)
	return result, nil
}

// FetchDocument downloads the bundle for trackID using the given session cookies.
// The body must start with the ZIP signature.
func (c *Client) FetchDocument(ctx context.Context, trackID string, cookies []*http.Cookie) (*Download, error) {
	if trackID == "" {
		return nil, &FetchError{Kind: FetchTransport, Message: "track id is empty"}
	}

	httpClient, jar, err := c.newHTTPClient(c.opts.RequestTimeout)
	if err != nil {
		return nil, &FetchError{TrackID: trackID, Kind: FetchTransport, Message: "failed to prepare request", Cause: err}
	}
	jar.SetCookies(c.downloadURL, cookies)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadRequestURL(trackID), nil)
	if err != nil {
		return nil, &FetchError{TrackID: trackID, Kind: FetchTransport, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/zip, application/octet-stream, */*")
	req.Header.Set("Referer", c.downloadURL.Scheme+"://"+c.downloadURL.Host+"/")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		msg := "HTTP request failed"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			msg = "request timed out"
		}
		return nil, &FetchError{TrackID: trackID, Kind: FetchTransport, Message: msg, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes))
	if err != nil {
		return nil, &FetchError{TrackID: trackID, Kind: FetchTransport, Message: "failed to read response body", Cause: err}
	}

	c.logger.Debug().
		Str("track_id", trackID).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("portal download answered")

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			TrackID:    trackID,
			Kind:       FetchHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	if !bytes.HasPrefix(body, zipSignature) {
		return nil, &FetchError{
			TrackID:    trackID,
			Kind:       FetchInvalidFormat,
			StatusCode: resp.StatusCode,
			Message:    "downloaded file is not a valid ZIP archive",
		}
	}

	return &Download{
		TrackID: trackID,
		Body:    body,
		Cookies: jar.Cookies(c.downloadURL),
	}, nil
}
