// Package metrics provides Prometheus metrics for the Drive provider.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonimelisma/gdrive-go/internal/drive"
)

// Metrics holds one provider's collectors. A nil *Metrics is valid and
// records nothing, so callers never need to guard.
type Metrics struct {
	gatherer prometheus.Gatherer

	apiCalls     *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	changeEvents *prometheus.CounterVec
	disconnects  prometheus.Counter
	cacheEntries prometheus.Gauge
}

// New registers the collectors on reg. Pass a fresh prometheus.Registry
// per provider in tests; registering twice on one registry panics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		apiCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdrive_api_calls_total",
				Help: "Total Drive API calls by method and classified outcome",
			},
			[]string{"method", "outcome"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdrive_api_call_duration_seconds",
				Help:    "Drive API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdrive_cache_lookups_total",
				Help: "Path cache lookups by result",
			},
			[]string{"result"},
		),
		changeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdrive_change_events_total",
				Help: "Change-feed events delivered, by exists flag",
			},
			[]string{"exists"},
		),
		disconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gdrive_disconnects_total",
				Help: "Forced session disconnects",
			},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gdrive_cache_entries",
				Help: "Live entries in the path cache",
			},
		),
	}
}

// Handler returns the HTTP handler exposing these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordCall records one API call and its classified outcome.
func (m *Metrics) RecordCall(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.apiCalls.WithLabelValues(method, Outcome(err)).Inc()
	m.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordCacheLookup records a path cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordChangeEvent records a delivered change event by its exists label.
func (m *Metrics) RecordChangeEvent(exists string) {
	if m == nil {
		return
	}

	m.changeEvents.WithLabelValues(exists).Inc()
}

// RecordDisconnect counts a forced disconnect.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}

	m.disconnects.Inc()
}

// SetCacheEntries sets the live cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}

	m.cacheEntries.Set(float64(n))
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, drive.ErrRangeDone):
		return "range_done"
	case errors.Is(err, drive.ErrNotFound):
		return "not_found"
	case errors.Is(err, drive.ErrExists):
		return "exists"
	case errors.Is(err, drive.ErrOutOfSpace):
		return "out_of_space"
	case errors.Is(err, drive.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, drive.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, drive.ErrTemporary):
		return "temporary"
	case errors.Is(err, drive.ErrDisconnected):
		return "disconnected"
	default:
		return "error"
	}
}
