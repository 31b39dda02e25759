package core

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials is returned when userid/password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthenticationFailed is returned when a plugin could not complete authentication.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnknownRealm is returned when a realm name is not registered.
	ErrUnknownRealm = errors.New("unknown realm")
)

// AuthInfo is what an authentication plugin hands back after a successful login.
type AuthInfo interface {
	Principal() string
	Roles() []string
}

// CacheableAuthInfo is implemented by results whose raw credential may be kept in hashed form.
type CacheableAuthInfo interface {
	AuthInfo
	Credentials() []byte
}

type basicAuthInfo struct {
	principal string
	roles     []string
}

func (a basicAuthInfo) Principal() string { return a.principal }
func (a basicAuthInfo) Roles() []string   { return append([]string(nil), a.roles...) }

type cacheableAuthInfo struct {
	basicAuthInfo
	credentials []byte
}

func (a cacheableAuthInfo) Credentials() []byte { return append([]byte(nil), a.credentials...) }

// NewAuthInfo builds a result whose credentials must not be cached.
func NewAuthInfo(principal string, roles ...string) AuthInfo {
	return basicAuthInfo{principal: principal, roles: append([]string(nil), roles...)}
}

// NewCacheableAuthInfo builds a result that allows its credentials to be cached after hashing.
func NewCacheableAuthInfo(principal string, credentials []byte, roles ...string) CacheableAuthInfo {
	return cacheableAuthInfo{
		basicAuthInfo: basicAuthInfo{principal: principal, roles: append([]string(nil), roles...)},
		credentials:   append([]byte(nil), credentials...),
	}
}

// AuthToken carries what the end user presented.
type AuthToken struct {
	Principal   string
	Credentials []byte
}

// AuthPlugin is an external authentication provider (LDAP bridge, identity service, local table).
// Authenticate only returns a non-nil AuthInfo on success.
type AuthPlugin interface {
	Name() string
	Authenticate(ctx context.Context, token AuthToken) (AuthInfo, error)
}

// AuthService authenticates a user against the configured realms.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*AuthRecord, error)
}
