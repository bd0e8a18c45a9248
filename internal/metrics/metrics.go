package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cookie_jar"

// Acquire results.
const (
	ResultReused       = "reused"
	ResultHarvested    = "harvested"
	ResultNotAvailable = "not_available"
	ResultError        = "error"
)

// Metrics holds the pool collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	acquires        *prometheus.CounterVec
	releases        *prometheus.CounterVec
	harvests        *prometheus.CounterVec
	harvestDuration *prometheus.HistogramVec
	quarantined     *prometheus.CounterVec
	replaced        *prometheus.CounterVec
	purged          *prometheus.CounterVec
	leaseRaces      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquires_total",
			Help:      "Lease acquisitions by site and result.",
		}, []string{"site", "result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Lease releases by site and reported outcome.",
		}, []string{"site", "outcome"}),
		harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_total",
			Help:      "Harvest attempts by site and result.",
		}, []string{"site", "result"}),
		harvestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "harvest_duration_seconds",
			Help:      "Time spent minting a cookie set.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"site"}),
		quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_quarantined_total",
			Help:      "Sessions marked unhealthy after repeated failures.",
		}, []string{"site"}),
		replaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_replaced_total",
			Help:      "Stale sessions replaced by a sweep.",
		}, []string{"site"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_purged_total",
			Help:      "Stale sessions removed without replacement.",
		}, []string{"site"}),
		leaseRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_races_total",
			Help:      "Conditional lease updates lost to a concurrent caller.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.acquires,
			m.releases,
			m.harvests,
			m.harvestDuration,
			m.quarantined,
			m.replaced,
			m.purged,
			m.leaseRaces,
		)
	}
	return m
}

func (m *Metrics) Acquire(site, result string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(site, result).Inc()
}

func (m *Metrics) Release(site, outcome string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(site, outcome).Inc()
}

func (m *Metrics) Harvest(site string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.harvests.WithLabelValues(site, result).Inc()
	m.harvestDuration.WithLabelValues(site).Observe(took.Seconds())
}

func (m *Metrics) Quarantined(site string) {
	if m == nil {
		return
	}
	m.quarantined.WithLabelValues(site).Inc()
}

func (m *Metrics) Replaced(site string) {
	if m == nil {
		return
	}
	m.replaced.WithLabelValues(site).Inc()
}

func (m *Metrics) Purged(site string) {
	if m == nil {
		return
	}
	m.purged.WithLabelValues(site).Inc()
}

func (m *Metrics) LeaseRace() {
	if m == nil {
		return
	}
	m.leaseRaces.Inc()
}
