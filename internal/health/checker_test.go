package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type changeRecorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *changeRecorder) record(name, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, name+"="+status)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestProbeEndpoint_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probeEndpoint(context.Background(), srv.URL) {
		t.Error("expected probe to succeed")
	}
}

func TestProbeEndpoint_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if checker.probeEndpoint(context.Background(), srv.URL) {
		t.Error("expected probe to fail")
	}
}

func TestCheckAll_probesHealthPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(StaticTargets{{Name: "backend", URL: srv.URL + "/"}}, Config{}, zap.NewNop())
	checker.CheckAll(context.Background())

	if gotPath != "/health" {
		t.Errorf("probed path: got %q, want /health", gotPath)
	}
	if got := checker.Statuses()["backend"]; got != StatusHealthy {
		t.Errorf("status: got %q, want healthy", got)
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &changeRecorder{}
	var metrics []bool
	checker := New(StaticTargets{{Name: "ai", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetStatusChange(rec.record)
	checker.SetMetricsRecord(func(_ string, ok bool) { metrics = append(metrics, ok) })

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if got := checker.Statuses()["ai"]; got != StatusUnknown {
		t.Errorf("below threshold: got %q, want unknown", got)
	}
	if checker.AllDegraded() {
		t.Error("AllDegraded should be false below threshold")
	}

	checker.CheckAll(context.Background())
	if got := checker.Statuses()["ai"]; got != StatusDegraded {
		t.Errorf("expected degraded, got %q", got)
	}
	if !checker.AllDegraded() {
		t.Error("AllDegraded should be true")
	}
	if len(rec.changes) != 1 || rec.changes[0] != "ai=degraded" {
		t.Errorf("changes: got %v", rec.changes)
	}
	if len(metrics) != 3 || metrics[0] {
		t.Errorf("metrics: got %v", metrics)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	var mu sync.Mutex
	failCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if failCount < 3 {
			failCount++
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &changeRecorder{}
	checker := New(StaticTargets{{Name: "backend", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetStatusChange(rec.record)

	// Fail 3 times, then succeed.
	for i := 0; i < 4; i++ {
		checker.CheckAll(context.Background())
	}

	if got := checker.Statuses()["backend"]; got != StatusHealthy {
		t.Errorf("expected healthy after recovery, got %q", got)
	}
	want := []string{"backend=degraded", "backend=healthy"}
	if len(rec.changes) != 2 || rec.changes[0] != want[0] || rec.changes[1] != want[1] {
		t.Errorf("changes: got %v, want %v", rec.changes, want)
	}
}

func TestTargetsFromMap_sorted(t *testing.T) {
	got := TargetsFromMap(map[string]string{"hexstrike": "http://h", "ai": "http://a", "backend": "http://b"})
	if len(got) != 3 || got[0].Name != "ai" || got[1].Name != "backend" || got[2].Name != "hexstrike" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(StaticTargets{{Name: "backend", URL: srv.URL}}, Config{CheckInterval: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for checker.Statuses()["backend"] != StatusHealthy {
		select {
		case <-deadline:
			t.Fatal("initial probe did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
