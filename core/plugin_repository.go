package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PluginRepository is the plugin name of the PostgreSQL-backed realm.
const PluginRepository = "repository"

// RepositoryPlugin authenticates against the local users table using bcrypt hashes.
type RepositoryPlugin struct {
	users     UserRepository
	cacheable bool
}

// NewRepositoryPlugin wraps users. When cacheable is set, results carry the
// presented password so the realm may cache it in hashed form.
func NewRepositoryPlugin(users UserRepository, cacheable bool) *RepositoryPlugin {
	return &RepositoryPlugin{users: users, cacheable: cacheable}
}

func (p *RepositoryPlugin) Name() string { return PluginRepository }

// Authenticate looks the user up and compares the bcrypt hash.
func (p *RepositoryPlugin) Authenticate(ctx context.Context, token AuthToken) (AuthInfo, error) {
	if strings.TrimSpace(token.Principal) == "" || len(token.Credentials) == 0 {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := p.users.FindByUsername(ctx, token.Principal)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), token.Credentials) != nil {
		return nil, ErrInvalidCredentials
	}
	if p.cacheable {
		return NewCacheableAuthInfo(u.Username, token.Credentials, u.Roles...), nil
	}
	return NewAuthInfo(u.Username, u.Roles...), nil
}
