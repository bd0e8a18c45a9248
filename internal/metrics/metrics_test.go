package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Acquire("ajio", ResultReused)
		m.Release("ajio", "success")
		m.Harvest("ajio", time.Second, nil)
		m.Quarantined("ajio")
		m.Replaced("ajio")
		m.Purged("ajio")
		m.LeaseRace()
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Acquire("ajio", ResultReused)
	m.Acquire("ajio", ResultReused)
	m.Acquire("ajio", ResultHarvested)
	m.Harvest("ajio", 2*time.Second, nil)
	m.Harvest("ajio", time.Second, errors.New("blocked"))
	m.LeaseRace()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.acquires.WithLabelValues("ajio", ResultReused)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.harvests.WithLabelValues("ajio", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leaseRaces))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "cookie_jar_acquires_total")
	assert.Contains(t, names, "cookie_jar_harvest_duration_seconds")
}
