// Package portaltest provides an in-process fake of the DIAN document portal.
package portaltest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/jonathan/dian-reconciler/internal/portal"
)

const (
	// PK and Token are the credential parameters the fake portal accepts.
	PK    = "900123456"
	Token = "secret-token"

	// CookieName is the session cookie issued on authentication.
	CookieName = ".AspNet.ApplicationCookie"

	authPath     = "/User/AuthToken"
	downloadPath = "/Document/DownloadZipFiles"
)

// Server is a fake portal backed by httptest.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	session     string
	bundles     map[string][]byte
	statuses    map[string]int
	authStatus  int
	authCalls   int
	fetchCalls  int
	fetchedKeys []string
}

// New starts a fake portal and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		bundles:  make(map[string][]byte),
		statuses: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, s.handleAuth)
	mux.HandleFunc(downloadPath, s.handleDownload)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Options returns portal client options pointing at the fake.
func (s *Server) Options() *portal.Options {
	opts := portal.DefaultOptions()
	opts.AuthURL = s.URL + authPath
	opts.DownloadURL = s.URL + downloadPath
	return opts
}

// CredentialURL returns a credential accepted by the fake.
func (s *Server) CredentialURL() string {
	return s.URL + authPath + "?pk=" + url.QueryEscape(PK) + "&token=" + url.QueryEscape(Token)
}

// SetBundle registers the archive returned for trackID.
func (s *Server) SetBundle(trackID string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[trackID] = body
}

// SetStatus forces the download status code for trackID.
func (s *Server) SetStatus(trackID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[trackID] = status
}

// SetAuthStatus forces the authentication status code.
func (s *Server) SetAuthStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authStatus = status
}

// ExpireSessions invalidates every issued session cookie.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = ""
}

// AuthCalls returns the number of authentication requests received.
func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// FetchCalls returns the number of download requests received.
func (s *Server) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// FetchedKeys returns the track ids requested, in order.
func (s *Server) FetchedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetchedKeys...)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCalls++

	if s.authStatus != 0 && s.authStatus != http.StatusOK {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(s.authStatus)
		_, _ = w.Write([]byte("<html><head><title>Token invalido</title></head><body></body></html>"))
		return
	}

	q := r.URL.Query()
	if q.Get("pk") != PK || q.Get("token") != Token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("<html><head><title>Acceso denegado</title></head></html>"))
		return
	}

	s.session = randomHex()
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: s.session, Path: "/", HttpOnly: true})
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("<html><head><title>Catalogo</title></head><body>ok</body></html>"))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++

	trackID := r.URL.Query().Get("trackId")
	s.fetchedKeys = append(s.fetchedKeys, trackID)

	cookie, err := r.Cookie(CookieName)
	if err != nil || s.session == "" || cookie.Value != s.session {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if status, ok := s.statuses[trackID]; ok && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	body, ok := s.bundles[trackID]
	if !ok {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Documento no encontrado</body></html>"))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(body)
}

func randomHex() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
