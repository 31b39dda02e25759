package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RealmsFile is the YAML document describing realms and role policies.
//
//	realms:
//	  - name: ldap-bridge
//	    plugin: static
//	    cacheable: true
//	    users:
//	      - principal: alice
//	        password_hash: $2a$10$...
//	        roles: [admin, reader]
//	policies:
//	  - role: reader
//	    object: "/graphs/*"
//	    action: read
type RealmsFile struct {
	Realms   []RealmSpec  `yaml:"realms"`
	Policies []PolicyRule `yaml:"policies"`
}

// RealmSpec configures one realm.
type RealmSpec struct {
	Name      string       `yaml:"name"`
	Plugin    string       `yaml:"plugin"`    // static|repository
	Cache     *bool        `yaml:"cache"`     // cache successful logins (default true)
	Cacheable bool         `yaml:"cacheable"` // plugin results carry credentials for caching
	Users     []StaticUser `yaml:"users"`     // static plugin only
}

// CacheEnabled reports the effective cache flag.
func (s RealmSpec) CacheEnabled() bool {
	return s.Cache == nil || *s.Cache
}

// StaticUser is a realms-file user entry.
type StaticUser struct {
	Principal    string   `yaml:"principal"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// PolicyRule grants action on object to role.
type PolicyRule struct {
	Role   string `yaml:"role"`
	Object string `yaml:"object"`
	Action string `yaml:"action"`
}

// LoadRealmsFile reads and validates path.
func LoadRealmsFile(path string) (*RealmsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read realms file %s: %w", path, err)
	}
	rf, err := ParseRealmsFile(data)
	if err != nil {
		return nil, fmt.Errorf("realms file %s: %w", path, err)
	}
	return rf, nil
}

// ParseRealmsFile decodes and validates a realms document.
func ParseRealmsFile(data []byte) (*RealmsFile, error) {
	var rf RealmsFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// reservedRealmChars separate cache keys or act as SCAN patterns.
const reservedRealmChars = `:*?[]\`

// Validate trims realm names and checks them along with plugins and policy rules.
func (rf *RealmsFile) Validate() error {
	seen := map[string]struct{}{}
	for i, r := range rf.Realms {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("realm #%d: name is required", i+1)
		}
		if strings.ContainsAny(name, reservedRealmChars) {
			return fmt.Errorf("realm %s: name must not contain any of %q", name, reservedRealmChars)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("realm %s: duplicate name", name)
		}
		seen[name] = struct{}{}
		rf.Realms[i].Name = name

		switch r.Plugin {
		case PluginStatic:
			for j, u := range r.Users {
				if strings.TrimSpace(u.Principal) == "" || u.PasswordHash == "" {
					return fmt.Errorf("realm %s: user #%d needs principal and password_hash", name, j+1)
				}
			}
		case PluginRepository:
			if len(r.Users) > 0 {
				return fmt.Errorf("realm %s: users are only allowed for the static plugin", name)
			}
		default:
			return fmt.Errorf("realm %s: unknown plugin %q", name, r.Plugin)
		}
	}
	for i, p := range rf.Policies {
		if p.Role == "" || p.Object == "" || p.Action == "" {
			return fmt.Errorf("policy #%d: role, object and action are required", i+1)
		}
	}
	if len(rf.Realms) == 0 {
		return errors.New("no realms configured")
	}
	return nil
}
