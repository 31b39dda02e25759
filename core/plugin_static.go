package core

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// PluginStatic is the plugin name of realms whose users are listed in the realms file.
const PluginStatic = "static"

// StaticPlugin authenticates against a fixed user list with bcrypt password hashes.
// It stands in for an external identity bridge and is read-only after construction.
type StaticPlugin struct {
	users     map[string]StaticUser
	cacheable bool
}

// NewStaticPlugin indexes users by principal.
func NewStaticPlugin(users []StaticUser, cacheable bool) *StaticPlugin {
	idx := make(map[string]StaticUser, len(users))
	for _, u := range users {
		u.Roles = append([]string(nil), u.Roles...)
		idx[u.Principal] = u
	}
	return &StaticPlugin{users: idx, cacheable: cacheable}
}

func (p *StaticPlugin) Name() string { return PluginStatic }

func (p *StaticPlugin) Authenticate(_ context.Context, token AuthToken) (AuthInfo, error) {
	u, ok := p.users[token.Principal]
	if !ok || len(token.Credentials) == 0 {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), token.Credentials) != nil {
		return nil, ErrInvalidCredentials
	}
	if p.cacheable {
		return NewCacheableAuthInfo(u.Principal, token.Credentials, u.Roles...), nil
	}
	return NewAuthInfo(u.Principal, u.Roles...), nil
}
