package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results recorded by RealmMetrics.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheMismatch = "mismatch"
	CacheStale    = "stale"
	CacheError    = "error"
)

// RealmMetrics counts realm logins and cache behaviour. A nil *RealmMetrics records nothing.
type RealmMetrics struct {
	logins        *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	pluginLatency *prometheus.HistogramVec
}

// NewRealmMetrics registers the realm collectors on reg.
func NewRealmMetrics(reg prometheus.Registerer) *RealmMetrics {
	return &RealmMetrics{
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginauth_logins_total",
				Help: "Login attempts by realm and result",
			},
			[]string{"realm", "result"}, // success, failure, hashing_error
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginauth_cache_lookups_total",
				Help: "Credential cache lookups by realm and result",
			},
			[]string{"realm", "result"},
		),
		pluginLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluginauth_plugin_duration_seconds",
				Help:    "Duration of external plugin authentication calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"realm"},
		),
	}
}

func (m *RealmMetrics) login(realm, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(realm, result).Inc()
}

func (m *RealmMetrics) cacheLookup(realm, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(realm, result).Inc()
}

func (m *RealmMetrics) pluginCall(realm string, seconds float64) {
	if m == nil {
		return
	}
	m.pluginLatency.WithLabelValues(realm).Observe(seconds)
}
