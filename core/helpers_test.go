package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testRandomSource is a predictable reader that outputs the test name as a source of randomness.
type testRandomSource struct {
	t *testing.T
}

func (s testRandomSource) Read(target []byte) (int, error) {
	name := s.t.Name()
	for i := range target {
		target[i] = name[i%len(name)]
	}
	return len(target), nil
}

var errEntropy = errors.New("entropy source exhausted")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errEntropy }

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestHasher(t *testing.T) *SecureHasher {
	t.Helper()
	h, err := NewSecureHasher(HasherConfig{})
	require.NoError(t, err)
	return h
}

// fakePlugin accepts any principal listed in passwords with the matching password.
type fakePlugin struct {
	passwords map[string]string
	roles     map[string][]string
	cacheable bool
	err       error

	// gate, when set, blocks Authenticate until closed.
	gate  chan struct{}
	calls atomic.Int32
	mu    sync.Mutex
}

func (p *fakePlugin) Name() string { return "fake" }

func (p *fakePlugin) Authenticate(_ context.Context, token AuthToken) (AuthInfo, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	want, ok := p.passwords[token.Principal]
	if !ok || want != string(token.Credentials) {
		return nil, ErrInvalidCredentials
	}
	if p.cacheable {
		return NewCacheableAuthInfo(token.Principal, token.Credentials, p.roles[token.Principal]...), nil
	}
	return NewAuthInfo(token.Principal, p.roles[token.Principal]...), nil
}

func (p *fakePlugin) setPassword(principal, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[principal] = password
}

func (p *fakePlugin) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// brokenHasher fails every Hash call.
type brokenHasher struct{ verified bool }

func (brokenHasher) Hash([]byte) (SaltedHash, error) {
	return SaltedHash{}, &HashingError{Op: "read salt", Err: errEntropy}
}

func (b brokenHasher) Verify([]byte, SaltedHash) bool { return b.verified }

func (brokenHasher) NeedsRehash(SaltedHash) bool { return false }
