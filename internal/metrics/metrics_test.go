package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIndependentInstances(t *testing.T) {
	// Two instances must not collide in a shared registry.
	a := NewGridMetrics()
	b := NewGridMetrics()
	a.JobsSubmitted.Inc()
	b.JobsSubmitted.Inc()
}

func TestHandlerServesNamespacedMetrics(t *testing.T) {
	m := NewGridMetrics()
	m.JobsSubmitted.Inc()
	m.CommandsTotal.WithLabelValues("nodes").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "gridmii_job_submitted_total 1") {
		t.Fatalf("expected job counter in scrape output, got:\n%s", body)
	}
	if !strings.Contains(body, `gridmii_command_invocations_total{command="nodes"} 1`) {
		t.Fatalf("expected command counter in scrape output, got:\n%s", body)
	}
}
