package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyline/internal/metrics"
)

func TestCountersAndHandler(t *testing.T) {
	m := metrics.New()
	m.ObserveActor("analysis", "ok", 2*time.Second)
	m.ObserveActor("analysis", "error", time.Second)
	m.Approval("brief", "approved", true)
	m.Transition("brief")
	m.RequirementAdded("problem_goals")
	m.RequirementAdded("problem_goals")

	n, err := testutil.GatherAndCount(m.Registry, "storyline_actor_invocations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `storyline_requirements_added_total{category="problem_goals"} 2`)
	assert.Contains(t, body, `storyline_approvals_total{forced="true",phase="brief",status="approved"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveActor("x", "ok", 0)
		m.Approval("brief", "approved", false)
		m.Transition("brief")
		m.RequirementAdded("features_scope")
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
