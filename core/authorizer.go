package core

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// rbacModel matches role subjects against object patterns; "*" grants every action.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Authorizer resolves roles to permissions. It reads AuthorizationInfo and never
// mutates the enforcer after construction.
type Authorizer struct {
	enforcer casbin.IEnforcer
}

// RoleSubject is the casbin subject for a role name.
func RoleSubject(role string) string {
	return "role:" + role
}

// NewAuthorizer loads rules into an in-memory enforcer.
func NewAuthorizer(rules []PolicyRule) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	for _, rule := range rules {
		if _, err := enforcer.AddPolicy(RoleSubject(rule.Role), rule.Object, rule.Action); err != nil {
			return nil, fmt.Errorf("add policy for role %s: %w", rule.Role, err)
		}
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Authorize reports whether info grants perm. Explicit string permissions are used when
// the source supplies them; otherwise each role is checked against the policies.
func (a *Authorizer) Authorize(info AuthorizationInfo, perm Permission) (bool, error) {
	if perms, ok := info.StringPermissions(); ok {
		for _, p := range perms {
			if p == perm.Object+":"+perm.Action {
				return true, nil
			}
		}
		return false, nil
	}

	roles := info.Roles()
	if len(roles) == 0 {
		slog.Debug("authorization denied: no roles", "object", perm.Object, "action", perm.Action)
		return false, nil
	}
	for _, role := range roles {
		allowed, err := a.enforcer.Enforce(RoleSubject(role), perm.Object, perm.Action)
		if err != nil {
			return false, fmt.Errorf("casbin enforce for role %s: %w", role, err)
		}
		if allowed {
			return true, nil
		}
	}
	slog.Debug("authorization denied", "roles", roles, "object", perm.Object, "action", perm.Action)
	return false, nil
}
