package core

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// sessionUser is the principal remembered in the session cookie.
type sessionUser struct {
	UserID string
	Realm  string
	roles  []string
}

func (u sessionUser) hasRole(role string) bool {
	for _, r := range u.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Roles, StringPermissions and ObjectPermissions let the session stand in for a
// cached record when the realm cache no longer holds one.
func (u sessionUser) Roles() []string                         { return append([]string(nil), u.roles...) }
func (u sessionUser) StringPermissions() ([]string, bool)     { return nil, false }
func (u sessionUser) ObjectPermissions() ([]Permission, bool) { return nil, false }

func currentUser(c *gin.Context) (sessionUser, bool) {
	sess := sessionFrom(c)
	if sess == nil {
		return sessionUser{}, false
	}
	userid, _ := sess.Values[sessionUserKey].(string)
	if strings.TrimSpace(userid) == "" {
		return sessionUser{}, false
	}
	realm, _ := sess.Values[sessionRealmKey].(string)
	roles, _ := sess.Values[sessionRolesKey].([]string)
	return sessionUser{UserID: userid, Realm: realm, roles: roles}, true
}
