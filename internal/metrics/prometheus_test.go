package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsServer_MetricsEndpoint(t *testing.T) {
	// Vec metrics only show up after WithLabelValues() is called.
	ProbeErrors.WithLabelValues("du").Add(0)
	Cycles.WithLabelValues("moved").Add(0)
	Tombstones.WithLabelValues("scan", "deleted").Add(0)
	CommandDuration.WithLabelValues("rclone").Observe(0)
	Notifications.WithLabelValues("pushover", "ok").Add(0)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"ufc_local_tier_gigabytes",
		"ufc_busy_files",
		"ufc_probe_errors_total",
		"ufc_writeback_cycles_total",
		"ufc_writeback_cycle_duration_seconds",
		"ufc_writeback_state",
		"ufc_writeback_check_interval_seconds",
		"ufc_rate_limit_hits_total",
		"ufc_tombstones_total",
		"ufc_pruned_directories_total",
		"ufc_command_duration_seconds",
		"ufc_notifications_total",
	}

	for _, name := range expectedMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("expected /metrics to contain %q", name)
		}
	}

	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "text/openmetrics") {
		t.Errorf("expected text/plain or openmetrics content type, got %s", ct)
	}
}
