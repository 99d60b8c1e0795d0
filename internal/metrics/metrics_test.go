package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter of family name carrying label=value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestRecordEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEvent("subscribe", true)
	c.RecordEvent("subscribe", true)
	c.RecordEvent("update_case", false)

	assert.Equal(t, 2.0, counterValue(t, reg, "helium_case_events_total", "category", "subscribe"))
	assert.Equal(t, 1.0, counterValue(t, reg, "helium_case_events_rejected_total", "category", "update_case"))
}

func TestRecordFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStreamError()
	c.RecordActionFailure("start analysis")
	c.RecordHTTPStatus(http.StatusForbidden)
	c.RecordRequestLatency(120 * time.Millisecond)

	assert.Equal(t, 1.0, counterValue(t, reg, "helium_event_stream_errors_total", "", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "helium_action_failures_total", "action", "start analysis"))
	assert.Equal(t, 1.0, counterValue(t, reg, "helium_api_http_status_total", "status_code", "403"))
}

func TestSetupMetricsRouteServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordEvent("delete_case", true)

	handler := SetupMetricsRoute(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `helium_case_events_total{category="delete_case"} 1`)
}
