package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/dian-reconciler/internal/portal"
)

// Authenticator performs the portal handshake.
type Authenticator interface {
	Authenticate(ctx context.Context, cred portal.Credential) (*portal.AuthResult, error)
}

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidFingerprint reports whether id has the shape of a credential fingerprint.
func ValidFingerprint(id string) bool {
	return fingerprintPattern.MatchString(id)
}

// FileStore keeps one JSON file per fingerprint under a directory.
type FileStore struct {
	dir    string
	auth   Authenticator
	logger zerolog.Logger
	flight singleflight.Group
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*credentialLock
}

type credentialLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewFileStore creates the session directory if needed and returns a store.
func NewFileStore(dir string, auth Authenticator, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		auth:   auth,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
		locks:  make(map[string]*credentialLock),
	}, nil
}

// Lock serializes portal traffic for one credential fingerprint. It blocks
// until the fingerprint is free or ctx is done; the returned func releases it
// and is safe to call more than once.
func (s *FileStore) Lock(ctx context.Context, fingerprint string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[fingerprint]
	if !ok {
		l = &credentialLock{sem: semaphore.NewWeighted(1)}
		s.locks[fingerprint] = l
	}
	l.refs++
	s.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		s.releaseRef(fingerprint, l)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			s.releaseRef(fingerprint, l)
		})
	}, nil
}

func (s *FileStore) releaseRef(fingerprint string, l *credentialLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, fingerprint)
	}
}

// Dir returns the directory holding the session files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

// GetOrCreate returns the stored session for cred, authenticating and persisting
// a new one when none exists. Concurrent calls for the same credential share a
// single handshake.
func (s *FileStore) GetOrCreate(ctx context.Context, cred portal.Credential) (*Session, error) {
	fingerprint := cred.Fingerprint()

	sess, err := s.Load(fingerprint)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	v, err, shared := s.flight.Do(fingerprint, func() (interface{}, error) {
		// Another caller may have finished the handshake while we waited.
		if existing, loadErr := s.Load(fingerprint); loadErr == nil {
			return existing, nil
		}
		return s.create(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().Str("fingerprint", short(fingerprint)).Msg("shared in-flight handshake")
	}

	// Hand each caller its own copy.
	out := *v.(*Session)
	out.Cookies = append([]Cookie(nil), out.Cookies...)
	return &out, nil
}

func (s *FileStore) create(ctx context.Context, cred portal.Credential) (*Session, error) {
	if s.auth == nil {
		return nil, fmt.Errorf("session store has no authenticator")
	}

	result, err := s.auth.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	if result == nil || !result.Success {
		return nil, &portal.AuthenticationError{Message: "portal did not accept the credential"}
	}

	now := s.now().UTC()
	sess := &Session{
		Fingerprint: cred.Fingerprint(),
		Cookies:     fromHTTP(result.Cookies),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.write(sess); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("fingerprint", short(sess.Fingerprint)).
		Str("credential", cred.Redacted()).
		Int("cookies", len(sess.Cookies)).
		Msg("created portal session")
	return sess, nil
}

// Load reads the session stored for fingerprint.
func (s *FileStore) Load(fingerprint string) (*Session, error) {
	if !ValidFingerprint(fingerprint) {
		return nil, ErrSessionNotFound
	}

	data, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn().Err(err).Str("fingerprint", short(fingerprint)).Msg("discarding corrupt session file")
		return nil, ErrSessionNotFound
	}
	sess.Fingerprint = fingerprint
	return &sess, nil
}

// Save rewrites a session, typically after a download refreshed its cookies.
func (s *FileStore) Save(sess *Session) error {
	if sess == nil || !ValidFingerprint(sess.Fingerprint) {
		return fmt.Errorf("invalid session fingerprint")
	}
	sess.UpdatedAt = s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	return s.write(sess)
}

// Invalidate removes the session for fingerprint. Removing a missing session is not an error.
func (s *FileStore) Invalidate(fingerprint string) error {
	if !ValidFingerprint(fingerprint) {
		return nil
	}
	if err := os.Remove(s.path(fingerprint)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	s.logger.Info().Str("fingerprint", short(fingerprint)).Msg("invalidated portal session")
	return nil
}

func (s *FileStore) write(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, sess.Fingerprint+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(sess.Fingerprint)); err != nil {
		return fmt.Errorf("failed to store session file: %w", err)
	}
	return nil
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
