package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RealmAuthService tries realms in order and returns the first successful record.
type RealmAuthService struct {
	realms []*PluginRealm
	byName map[string]*PluginRealm
}

var _ AuthService = (*RealmAuthService)(nil)

// NewRealmAuthService registers realms in login order.
func NewRealmAuthService(realms ...*PluginRealm) (*RealmAuthService, error) {
	s := &RealmAuthService{byName: make(map[string]*PluginRealm, len(realms))}
	for _, r := range realms {
		if _, dup := s.byName[r.Name()]; dup {
			return nil, fmt.Errorf("realm %s registered twice", r.Name())
		}
		s.byName[r.Name()] = r
		s.realms = append(s.realms, r)
	}
	return s, nil
}

// Realms returns the realms in login order.
func (s *RealmAuthService) Realms() []*PluginRealm {
	return append([]*PluginRealm(nil), s.realms...)
}

// Realm returns the realm registered under name.
func (s *RealmAuthService) Realm(name string) (*PluginRealm, error) {
	r, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRealm, name)
	}
	return r, nil
}

// Authenticate tries every realm in order.
func (s *RealmAuthService) Authenticate(ctx context.Context, username, password string) (*AuthRecord, error) {
	return s.AuthenticateIn(ctx, "", username, password)
}

// AuthenticateIn authenticates against realm, or against all realms when realm is empty.
// A hashing failure stops the chain: the login fails even if the plugin accepted it.
func (s *RealmAuthService) AuthenticateIn(ctx context.Context, realm, username, password string) (*AuthRecord, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	candidates := s.realms
	if realm != "" {
		r, err := s.Realm(realm)
		if err != nil {
			return nil, err
		}
		candidates = []*PluginRealm{r}
	}

	token := AuthToken{Principal: username, Credentials: []byte(password)}
	var lastErr error
	sawInvalid := false
	for _, r := range candidates {
		rec, err := r.Login(ctx, token)
		if err == nil {
			return rec, nil
		}
		var hashErr *HashingError
		if errors.As(err, &hashErr) {
			return nil, err
		}
		if errors.Is(err, ErrInvalidCredentials) {
			sawInvalid = true
		} else {
			slog.Warn("realm login failed", "realm", r.Name(), "error", err)
		}
		lastErr = err
	}
	if sawInvalid || lastErr == nil {
		return nil, ErrInvalidCredentials
	}
	return nil, lastErr
}
