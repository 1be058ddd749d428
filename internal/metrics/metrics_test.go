package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestResult("stored")
	m.IngestResult("stored")
	m.IngestResult("invalid")
	m.Assessment("evacuate", 84.5, true)
	m.AdvisoryRender("template", "success")
	m.HTTPRequest("/assessment", "GET", "200", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsIngested.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsIngested.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("evacuate")))
	assert.Equal(t, 84.5, testutil.ToFloat64(m.LatestLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/assessment", "GET", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestResult("stored")
		m.Assessment("safe", 0, false)
		m.AdvisoryRender("template", "error")
		m.HTTPRequest("/", "GET", "200", 0)
	})
}
