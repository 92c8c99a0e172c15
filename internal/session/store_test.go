package session_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/portal/portaltest"
	"github.com/jonathan/dian-reconciler/internal/session"
)

type countingAuth struct {
	calls atomic.Int32
	delay time.Duration
	fail  bool
}

func (a *countingAuth) Authenticate(_ context.Context, _ portal.Credential) (*portal.AuthResult, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail {
		return &portal.AuthResult{StatusCode: http.StatusForbidden},
			&portal.AuthenticationError{StatusCode: http.StatusForbidden, Message: "rejected"}
	}
	return &portal.AuthResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Cookies:    []*http.Cookie{{Name: "sid", Value: "v1"}},
	}, nil
}

func credential(t *testing.T, raw string) portal.Credential {
	t.Helper()
	cred, err := portal.ParseCredential(raw)
	require.NoError(t, err)
	return cred
}

func TestGetOrCreate_AuthenticatesOnceAndPersists(t *testing.T) {
	dir := t.TempDir()
	auth := &countingAuth{}
	store, err := session.NewFileStore(dir, auth, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	first, err := store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, cred.Fingerprint(), first.Fingerprint)
	assert.Equal(t, []session.Cookie{{Name: "sid", Value: "v1"}}, first.Cookies)

	second, err := store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, first.Cookies, second.Cookies)
	assert.Equal(t, int32(1), auth.calls.Load())

	info, err := os.Stat(filepath.Join(dir, cred.Fingerprint()+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetOrCreate_SurvivesNewStore(t *testing.T) {
	dir := t.TempDir()
	auth := &countingAuth{}
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	store, err := session.NewFileStore(dir, auth, zerolog.Nop())
	require.NoError(t, err)
	_, err = store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)

	reopened, err := session.NewFileStore(dir, auth, zerolog.Nop())
	require.NoError(t, err)
	_, err = reopened.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestGetOrCreate_DistinctCredentialsDoNotShare(t *testing.T) {
	auth := &countingAuth{}
	store, err := session.NewFileStore(t.TempDir(), auth, zerolog.Nop())
	require.NoError(t, err)

	a, err := store.GetOrCreate(context.Background(), credential(t, "https://x.test/a?pk=1&token=2"))
	require.NoError(t, err)
	b, err := store.GetOrCreate(context.Background(), credential(t, "https://x.test/a?pk=1&token=3"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestGetOrCreate_FailureIsNotPersisted(t *testing.T) {
	dir := t.TempDir()
	auth := &countingAuth{fail: true}
	store, err := session.NewFileStore(dir, auth, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	_, err = store.GetOrCreate(context.Background(), cred)
	var authErr *portal.AuthenticationError
	require.ErrorAs(t, err, &authErr)

	_, err = store.Load(cred.Fingerprint())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestGetOrCreate_ConcurrentCallsShareHandshake(t *testing.T) {
	auth := &countingAuth{delay: 100 * time.Millisecond}
	store, err := session.NewFileStore(t.TempDir(), auth, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetOrCreate(context.Background(), cred)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestInvalidate_ForcesNewHandshake(t *testing.T) {
	auth := &countingAuth{}
	store, err := session.NewFileStore(t.TempDir(), auth, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	_, err = store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)
	require.NoError(t, store.Invalidate(cred.Fingerprint()))
	require.NoError(t, store.Invalidate(cred.Fingerprint()))

	_, err = store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestSave_UpdatesCookies(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir(), &countingAuth{}, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	sess, err := store.GetOrCreate(context.Background(), cred)
	require.NoError(t, err)

	assert.False(t, sess.SetHTTPCookies(nil))
	assert.False(t, sess.SetHTTPCookies([]*http.Cookie{{Name: "sid", Value: "v1"}}))
	require.True(t, sess.SetHTTPCookies([]*http.Cookie{{Name: "sid", Value: "v2"}}))
	require.NoError(t, store.Save(sess))

	loaded, err := store.Load(cred.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.HTTPCookies()[0].Value)
	assert.False(t, loaded.UpdatedAt.Before(loaded.CreatedAt))
}

func TestLoad_RejectsMalformedIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir, nil, zerolog.Nop())
	require.NoError(t, err)

	for _, id := range []string{"", "../../etc/passwd", "ABC", "zz"} {
		_, err := store.Load(id)
		assert.ErrorIs(t, err, session.ErrSessionNotFound, id)
	}
}

func TestLoad_CorruptFileIsTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir, nil, zerolog.Nop())
	require.NoError(t, err)
	cred := credential(t, "https://x.test/a?pk=1&token=2")

	require.NoError(t, os.WriteFile(filepath.Join(dir, cred.Fingerprint()+".json"), []byte("{not json"), 0o600))
	_, err = store.Load(cred.Fingerprint())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestGetOrCreate_AgainstPortal(t *testing.T) {
	fake := portaltest.New(t)
	client, err := portal.NewClient(fake.Options(), zerolog.Nop())
	require.NoError(t, err)
	store, err := session.NewFileStore(t.TempDir(), client, zerolog.Nop())
	require.NoError(t, err)

	sess, err := store.GetOrCreate(context.Background(), credential(t, fake.CredentialURL()))
	require.NoError(t, err)
	require.Len(t, sess.Cookies, 1)
	assert.Equal(t, portaltest.CookieName, sess.Cookies[0].Name)
	assert.Equal(t, 1, fake.AuthCalls())
}

func TestLock_SerializesOneFingerprint(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir(), &countingAuth{}, zerolog.Nop())
	require.NoError(t, err)
	fp := credential(t, "https://x.test/a?pk=1&token=2").Fingerprint()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.Lock(context.Background(), fp)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestLock_OtherFingerprintsAreIndependent(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir(), &countingAuth{}, zerolog.Nop())
	require.NoError(t, err)
	a := credential(t, "https://x.test/a?pk=1&token=2").Fingerprint()
	b := credential(t, "https://x.test/a?pk=1&token=3").Fingerprint()

	unlockA, err := store.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := store.Lock(ctx, b)
	require.NoError(t, err)
	unlockB()
}

func TestLock_WaitEndsWithContext(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir(), &countingAuth{}, zerolog.Nop())
	require.NoError(t, err)
	fp := credential(t, "https://x.test/a?pk=1&token=2").Fingerprint()

	unlock, err := store.Lock(context.Background(), fp)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, fp)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Releasing twice is harmless and frees the fingerprint.
	unlock()
	unlock()
	again, err := store.Lock(context.Background(), fp)
	require.NoError(t, err)
	again()
}
