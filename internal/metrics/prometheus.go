package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe metrics
	LocalTierUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ufc_local_tier_gigabytes",
		Help: "Last measured size of the local tier in gigabytes",
	})

	BusyFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ufc_busy_files",
		Help: "Files held open under the local tier at the last busy check",
	})

	ProbeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufc_probe_errors_total",
		Help: "Capacity and busy probe failures",
	}, []string{"probe"})

	// Write-back metrics
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufc_writeback_cycles_total",
		Help: "Write-back cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ufc_writeback_cycle_duration_seconds",
		Help:    "Duration of write-back cycles that moved data",
		Buckets: []float64{10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
	})

	SchedulerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ufc_writeback_state",
		Help: "Current write-back scheduler state (0=idle)",
	})

	CheckInterval = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ufc_writeback_check_interval_seconds",
		Help: "Current write-back polling interval",
	})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ufc_rate_limit_hits_total",
		Help: "Rate-limit signatures seen in transfer output",
	})

	// Reconciler metrics
	Tombstones = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufc_tombstones_total",
		Help: "Tombstone markers processed by mode and outcome",
	}, []string{"mode", "outcome"})

	PrunedDirectories = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ufc_pruned_directories_total",
		Help: "Empty directories removed after write-back",
	})

	// Tool and notification metrics
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ufc_command_duration_seconds",
		Help:    "External tool run time",
		Buckets: []float64{0.01, 0.1, 1, 10, 60, 600, 3600},
	}, []string{"command"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ufc_notifications_total",
		Help: "Notification deliveries by sink and status",
	}, []string{"sink", "status"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
