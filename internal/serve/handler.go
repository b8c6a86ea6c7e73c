// Package serve exposes the daemon's state to operators over HTTP and
// NATS request-reply.
package serve

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/gftdcojp/unionfs-cleaner/internal/ledger"
	"github.com/gftdcojp/unionfs-cleaner/internal/tombstone"
	"github.com/gftdcojp/unionfs-cleaner/internal/writeback"
	"go.uber.org/zap"
)

// SchedulerView is the part of the write-back scheduler the API reads.
type SchedulerView interface {
	Snapshot() writeback.Snapshot
}

// Scanner runs an on-demand reconciliation scan.
type Scanner interface {
	Scan(ctx context.Context) (tombstone.ScanResult, error)
}

// Options configures the API. Scheduler, Ledger and Scanner may be nil
// when the matching component is disabled.
type Options struct {
	Version   string
	DryRun    bool
	Scheduler SchedulerView
	Ledger    ledger.Store
	Scanner   Scanner
	Logger    *zap.Logger
}

// Status is the body of GET /v1/status.
type Status struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	DryRun        bool                `json:"dry_run"`
	StartedAt     time.Time           `json:"started_at"`
	WriteBack     *writeback.Snapshot `json:"writeback,omitempty"`
	FailedDeletes int                 `json:"failed_deletes"`
}

type handler struct {
	opts    Options
	started time.Time
	logger  *zap.Logger
}

// NewHandler builds the HTTP API.
func NewHandler(opts Options) http.Handler {
	h := newHandler(opts)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/tombstones", h.handleTombstones)
	mux.HandleFunc("POST /v1/admin/scan", h.handleScan)
	return mux
}

func newHandler(opts Options) *handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{opts: opts, started: time.Now(), logger: logger}
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, opts Options) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(opts),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Logger != nil {
		opts.Logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) status(ctx context.Context) Status {
	st := Status{
		Status:    "ok",
		Version:   h.opts.Version,
		DryRun:    h.opts.DryRun,
		StartedAt: h.started,
	}
	if h.opts.Scheduler != nil {
		snap := h.opts.Scheduler.Snapshot()
		st.WriteBack = &snap
	}
	if h.opts.Ledger != nil {
		entries, err := h.opts.Ledger.List(ctx)
		if err != nil {
			h.logger.Warn("listing ledger failed", zap.Error(err))
			st.Status = "degraded"
		}
		st.FailedDeletes = len(entries)
	}
	return st
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

func (h *handler) handleTombstones(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ledger == nil {
		writeJSON(w, http.StatusOK, []ledger.Entry{})
		return
	}
	entries, err := h.opts.Ledger.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if h.opts.Scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not available"})
		return
	}
	h.logger.Info("scan requested", zap.String("remote", r.RemoteAddr))
	res, err := h.opts.Scanner.Scan(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
