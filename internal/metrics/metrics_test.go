package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)

	p.Dispatches.Inc()
	p.Advancements.WithLabelValues("ok").Inc()
	p.InFlight.Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.Dispatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.InFlight))

	count, err := testutil.GatherAndCount(reg, "slideflow_dispatches_total", "slideflow_advancements_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewPipeline_Unregistered(t *testing.T) {
	a := NewPipeline(nil)
	b := NewPipeline(nil)
	a.Dispatches.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Dispatches))
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPipeline(reg).Transitions.WithLabelValues("complete").Inc()

	srv := NewServer(":0", reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `slideflow_transitions_total{stage="complete"} 1`)
}
