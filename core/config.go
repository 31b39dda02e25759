package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings for the API, worker and CLI processes.
type Config struct {
	Port                     string        // HTTP listen port (e.g., "3000")
	SessionKey               string        // Cookie signing/encryption key
	CookieSecure             bool          // Whether to set Secure flag on session cookie
	CookieSameSite           string        // SameSite policy: Strict/Lax/None
	LogDir                   string        // Directory to write application logs
	LogLevel                 string        // DEBUG/INFO/WARN/ERROR
	LogFormat                string        // text/json
	DatabaseURL              string        // PostgreSQL DSN; empty disables repository realms
	RedisURL                 string        // Redis URL (redis://host:port/db)
	CacheBackend             string        // memory|redis|none
	CacheTTL                 time.Duration // lifetime of a cached record
	CacheSize                int           // max records of the memory cache
	RealmsFile               string        // YAML realms/policies file
	HashAlgorithm            HashAlgorithm // pbkdf2-sha256|pbkdf2-sha512
	HashIterations           int           // PBKDF2 iterations for cached credentials
	AllowedOrigins           []string      // allowed origins for CORS/CSRF origin check
	WorkerConcurrency        int           // invalidation worker goroutines
	BootstrapAdminEnabled    bool          // whether to create an admin in the repository realm
	InitialAdminPasswordPath string        // where to write generated admin password (if empty -> stderr)
}

// Load populates Config from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:                     firstNonEmpty(os.Getenv("PORT"), "3000"),
		SessionKey:               firstNonEmpty(os.Getenv("SESSION_KEY"), "change-this-session-key"),
		CookieSecure:             boolFromEnv("COOKIE_SECURE", false),
		CookieSameSite:           firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), "Strict"),
		LogDir:                   firstNonEmpty(os.Getenv("LOG_DIR"), "/var/log/pluginauth"),
		LogLevel:                 firstNonEmpty(os.Getenv("LOG_LEVEL"), "INFO"),
		LogFormat:                firstNonEmpty(os.Getenv("LOG_FORMAT"), "text"),
		DatabaseURL:              firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_URL")),
		RedisURL:                 firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		CacheBackend:             strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), CacheBackendMemory)),
		CacheTTL:                 durationFromEnv("CACHE_TTL", DefaultCacheTTL),
		CacheSize:                intFromEnv("CACHE_SIZE", DefaultCacheSize),
		RealmsFile:               firstNonEmpty(os.Getenv("REALMS_FILE"), "./realms.yaml"),
		HashAlgorithm:            HashAlgorithm(firstNonEmpty(os.Getenv("HASH_ALGORITHM"), string(DefaultHashAlgorithm))),
		HashIterations:           intFromEnv("HASH_ITERATIONS", DefaultHashIterations),
		AllowedOrigins:           parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		WorkerConcurrency:        intFromEnv("WORKER_CONCURRENCY", 2),
		BootstrapAdminEnabled:    boolFromEnv("BOOTSTRAP_ADMIN", true),
		InitialAdminPasswordPath: os.Getenv("INITIAL_ADMIN_PASSWORD_PATH"),
	}
}

// HasherConfig derives the SecureHasher settings.
func (c Config) HasherConfig() HasherConfig {
	return HasherConfig{Algorithm: c.HashAlgorithm, Iterations: c.HashIterations}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("10m") or plain seconds ("600").
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
