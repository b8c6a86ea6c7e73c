package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/gftdcojp/unionfs-cleaner/internal/ledger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) (*server.Server, string) {
	t.Helper()
	tmpDir := t.TempDir()

	opts := &server.Options{
		Host:     "127.0.0.1",
		Port:     -1,
		NoLog:    true,
		NoSigs:   true,
		StoreDir: filepath.Join(tmpDir, "jetstream"),
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}

	t.Cleanup(func() { ns.Shutdown() })
	return ns, ns.ClientURL()
}

func newTestLedger(t *testing.T) *ledger.BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func checkByName(status HealthStatus, name string) (Check, bool) {
	for _, c := range status.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)
	status := checker.Liveness()
	if !status.OK {
		t.Fatal("liveness should always return OK=true")
	}
}

func TestHealthChecker_Readiness_AllOK(t *testing.T) {
	_, url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	checker := NewHealthChecker(nc, newTestLedger(t), nil).
		WithDirectory("local_tier", t.TempDir()).
		WithDirectory("cloud_view", t.TempDir())

	status := checker.Readiness()
	if !status.OK {
		t.Fatalf("expected readiness OK=true, got checks: %+v", status.Checks)
	}

	want := map[string]string{
		"nats":       "connected",
		"ledger":     "ok",
		"local_tier": "ok",
		"cloud_view": "ok",
	}
	for name, st := range want {
		c, ok := checkByName(status, name)
		if !ok {
			t.Errorf("%s check missing", name)
			continue
		}
		if c.Status != st {
			t.Errorf("%s status = %s, want %s", name, c.Status, st)
		}
	}
}

func TestHealthChecker_Readiness_NATSDownIsNotFatal(t *testing.T) {
	ns, url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url, nats.NoReconnect())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	ns.Shutdown()
	time.Sleep(100 * time.Millisecond)

	checker := NewHealthChecker(nc, nil, nil)
	status := checker.Readiness()
	if !status.OK {
		t.Fatal("a lost notification connection must not fail readiness")
	}
	if c, _ := checkByName(status, "nats"); c.Status != "disconnected" {
		t.Fatalf("expected nats disconnected, got %s", c.Status)
	}
}

func TestHealthChecker_Readiness_LedgerError(t *testing.T) {
	store := newTestLedger(t)
	store.Close()

	checker := NewHealthChecker(nil, store, nil)
	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false when the ledger is closed")
	}
	c, ok := checkByName(status, "ledger")
	if !ok || c.Status != "error" || c.Error == "" {
		t.Fatalf("ledger check = %+v", c)
	}
}

func TestHealthChecker_Readiness_MissingDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	checker := NewHealthChecker(nil, nil, nil).
		WithDirectory("cloud_view", filepath.Join(t.TempDir(), "unmounted")).
		WithDirectory("local_tier", file)

	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false")
	}
	for _, name := range []string{"cloud_view", "local_tier"} {
		if c, _ := checkByName(status, name); c.Status != "error" {
			t.Errorf("%s status = %s, want error", name, c.Status)
		}
	}
}

func TestHealthChecker_Readiness_NilDeps(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)
	status := checker.Readiness()
	if !status.OK {
		t.Fatal("expected readiness OK=true with nil dependencies (no checks fail)")
	}
}

func TestHealthHandler_Endpoints(t *testing.T) {
	store := newTestLedger(t)
	checker := NewHealthChecker(nil, store, nil)
	handler := HealthHandler(config.HealthConfig{}, checker)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("liveness: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/readyz", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("readiness: expected 200, got %d", w.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.OK {
		t.Fatalf("readiness body = %+v", status)
	}

	store.Close()
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness after close: expected 503, got %d", w.Code)
	}
}
