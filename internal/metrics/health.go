package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/gftdcojp/unionfs-cleaner/internal/ledger"
	"github.com/gftdcojp/unionfs-cleaner/pkg/s3util"
	"github.com/nats-io/nats.go"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type dirCheck struct {
	name string
	path string
}

// HealthChecker runs health probes.
type HealthChecker struct {
	natsConn *nats.Conn
	ledger   ledger.Store
	s3Client *s3util.Client
	dirs     []dirCheck
}

// NewHealthChecker creates a new health checker. Any dependency may be nil.
func NewHealthChecker(nc *nats.Conn, ledgerStore ledger.Store, s3Client *s3util.Client) *HealthChecker {
	return &HealthChecker{
		natsConn: nc,
		ledger:   ledgerStore,
		s3Client: s3Client,
	}
}

// WithDirectory adds a readiness check that path is a reachable directory.
// A cloud mount that dropped shows up here.
func (h *HealthChecker) WithDirectory(name, path string) *HealthChecker {
	h.dirs = append(h.dirs, dirCheck{name: name, path: path})
	return h
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks the tiers and the services the daemon depends on.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	for _, d := range h.dirs {
		status.record(d.name, checkDirectory(d.path))
	}

	// Notifications are best effort, so a lost NATS connection is reported
	// without failing readiness.
	if h.natsConn != nil {
		state := "connected"
		if !h.natsConn.IsConnected() {
			state = "disconnected"
		}
		status.Checks = append(status.Checks, Check{Name: "nats", Status: state})
	}

	if h.ledger != nil {
		status.record("ledger", h.ledger.Ping())
	}

	if h.s3Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status.record("s3", h.s3Client.Ping(ctx))
	}

	return status
}

func (s *HealthStatus) record(name string, err error) {
	if err != nil {
		s.OK = false
		s.Checks = append(s.Checks, Check{Name: name, Status: "error", Error: err.Error()})
		return
	}
	s.Checks = append(s.Checks, Check{Name: name, Status: "ok"})
}

func checkDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// HealthHandler serves the liveness and readiness endpoints.
func HealthHandler(cfg config.HealthConfig, checker *HealthChecker) http.Handler {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Liveness())
	})
	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, checker.Readiness())
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: HealthHandler(cfg, checker),
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
