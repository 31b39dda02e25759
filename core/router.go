package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps are the collaborators of the HTTP API. Status and Gatherer may be nil.
type RouterDeps struct {
	Store      sessions.Store
	Auth       *RealmAuthService
	Authorizer *Authorizer
	Status     *InvalidationStatus
	Gatherer   prometheus.Gatherer
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_seconds": int64(time.Since(startedAt).Seconds())})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// origin/CORS -> session -> CSRF
	api := r.Group("/api/v1")
	api.Use(OriginRefererMiddleware(cfg), SessionMiddleware(cfg, deps.Store), CSRFMiddleware())
	{
		api.POST("/auth/login", loginHandler(cfg, deps))
		api.POST("/auth/logout", func(c *gin.Context) {
			sess := sessionFrom(c)
			sess.Values = map[interface{}]interface{}{}
			applySessionOptions(cfg, sess)
			sess.Options.MaxAge = -1 // after applySessionOptions so the cookie is deleted
			if err := sess.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
				return
			}
			c.Status(http.StatusNoContent)
		})

		authed := api.Group("")
		authed.Use(RequireLogin())
		authed.GET("/users/me", func(c *gin.Context) {
			u, _ := currentUser(c)
			c.JSON(http.StatusOK, gin.H{"user": gin.H{"userid": u.UserID, "realm": u.Realm, "roles": u.Roles()}})
		})
		authed.POST("/authz/check", authzCheckHandler(deps))

		admin := api.Group("/admin")
		admin.Use(AdminOnly())
		admin.GET("/realms", func(c *gin.Context) {
			out := make([]gin.H, 0)
			for _, realm := range deps.Auth.Realms() {
				out = append(out, gin.H{"name": realm.Name(), "plugin": realm.PluginName(), "caching": realm.CachingEnabled()})
			}
			c.JSON(http.StatusOK, gin.H{"realms": out})
		})
		admin.POST("/realms/:realm/invalidate", invalidateHandler(deps))
		admin.GET("/invalidations/status", func(c *gin.Context) {
			if deps.Status == nil {
				respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "invalidation queue is not configured")
				return
			}
			ctx := c.Request.Context()
			queue, err := deps.Status.Queue(ctx)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read queue")
				return
			}
			workers, err := deps.Status.Workers(ctx)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read workers")
				return
			}
			c.JSON(http.StatusOK, gin.H{"queue": queue, "workers": workers})
		})
	}

	return r
}

func loginHandler(cfg Config, deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   string `json:"userid"`
			Password string `json:"password"`
			Realm    string `json:"realm"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
			return
		}

		rec, err := deps.Auth.AuthenticateIn(c.Request.Context(), req.Realm, req.UserID, req.Password)
		if err != nil {
			var hashErr *HashingError
			switch {
			case errors.Is(err, ErrUnknownRealm):
				respondError(c, http.StatusBadRequest, "UNKNOWN_REALM", "unknown realm")
			case errors.As(err, &hashErr):
				slog.Error("login aborted by hashing failure", "userid", req.UserID, "error", err)
				respondError(c, http.StatusInternalServerError, "AUTHENTICATION_FAILED", "authentication could not be completed")
			case errors.Is(err, ErrInvalidCredentials):
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid userid or password")
			default:
				respondError(c, http.StatusBadGateway, "AUTHENTICATION_UNAVAILABLE", "authentication provider unavailable")
			}
			return
		}

		token, err := generateCSRFToken()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
			return
		}
		sess := sessionFrom(c)
		// fresh values on login; the csrf token rotates with them
		sess.Values = map[interface{}]interface{}{
			sessionUserKey:  rec.Principal(),
			sessionRealmKey: rec.RealmName(),
			sessionRolesKey: rec.Roles(),
			sessionCSRFKey:  token,
		}
		applySessionOptions(cfg, sess)
		if err := sess.Save(c.Request, c.Writer); err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
			return
		}

		c.Header("X-CSRF-Token", token)
		c.JSON(http.StatusOK, gin.H{"user": gin.H{"userid": rec.Principal(), "realm": rec.RealmName(), "roles": rec.Roles()}})
	}
}

func authzCheckHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Permission
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Object) == "" || strings.TrimSpace(req.Action) == "" {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "object and action are required")
			return
		}
		u, _ := currentUser(c)

		var info AuthorizationInfo = u
		if realm, err := deps.Auth.Realm(u.Realm); err == nil {
			if cached, ok, err := realm.Authorization(c.Request.Context(), u.UserID); err == nil && ok {
				info = cached
			}
		}

		allowed, err := deps.Authorizer.Authorize(info, req)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "authorization failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"allowed": allowed, "object": req.Object, "action": req.Action})
	}
}

func invalidateHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		realm, err := deps.Auth.Realm(c.Param("realm"))
		if err != nil {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "unknown realm")
			return
		}
		var req struct {
			Principal string `json:"principal"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
		}

		ctx := c.Request.Context()
		target := strings.TrimSpace(req.Principal)
		if target == "" {
			err = realm.Purge(ctx)
			target = "*"
		} else {
			err = realm.Invalidate(ctx, target)
		}
		if err != nil {
			slog.Error("cache invalidation failed", "realm", realm.Name(), "principal", target, "error", err)
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "invalidation failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"realm": realm.Name(), "invalidated": target})
	}
}
