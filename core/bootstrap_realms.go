package core

import (
	"context"
	"fmt"
)

// BuildRealms turns the realms file into realms in file order. users may be nil when
// no database is configured, in which case repository realms are rejected.
func BuildRealms(rf *RealmsFile, hasher CredentialHasher, cache RecordCache, metrics *RealmMetrics, users UserRepository) ([]*PluginRealm, error) {
	realms := make([]*PluginRealm, 0, len(rf.Realms))
	for _, spec := range rf.Realms {
		var plugin AuthPlugin
		switch spec.Plugin {
		case PluginStatic:
			plugin = NewStaticPlugin(spec.Users, spec.Cacheable)
		case PluginRepository:
			if users == nil {
				return nil, fmt.Errorf("realm %s: repository plugin requires DATABASE_URL", spec.Name)
			}
			plugin = NewRepositoryPlugin(users, spec.Cacheable)
		default:
			return nil, fmt.Errorf("realm %s: unknown plugin %q", spec.Name, spec.Plugin)
		}

		realmCache, realmHasher := cache, hasher
		if !spec.CacheEnabled() {
			realmCache, realmHasher = nil, nil
		}
		realm, err := NewPluginRealm(spec.Name, plugin, realmHasher, realmCache, metrics)
		if err != nil {
			return nil, err
		}
		realms = append(realms, realm)
	}
	return realms, nil
}

// detachedPlugin stands in for a realm's plugin in processes that only manage its cache.
type detachedPlugin struct{ name string }

func (p detachedPlugin) Name() string { return p.name }

func (p detachedPlugin) Authenticate(context.Context, AuthToken) (AuthInfo, error) {
	return nil, fmt.Errorf("%w: plugin %s is not attached in this process", ErrAuthenticationFailed, p.name)
}

// BuildCacheRealms builds realms that can invalidate and purge cache but never log anyone in.
func BuildCacheRealms(rf *RealmsFile, cache RecordCache) ([]*PluginRealm, error) {
	realms := make([]*PluginRealm, 0, len(rf.Realms))
	for _, spec := range rf.Realms {
		realm, err := NewPluginRealm(spec.Name, detachedPlugin{name: spec.Plugin}, nil, cache, nil)
		if err != nil {
			return nil, err
		}
		realms = append(realms, realm)
	}
	return realms, nil
}
