package attack

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *recordingTarget) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	target := newDetectingTarget(t)
	d := newTestDriver(t, map[string]string{"backend": target.srv.URL, "ai": target.srv.URL})

	r := gin.New()
	NewHandler(d, zap.NewNop()).Register(r)
	return r, target
}

func get(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w, body
}

func TestHandler_attackCapsCount(t *testing.T) {
	r, _ := newTestRouter(t)

	w, body := get(t, r, "/attack/xss?target=backend&count=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["attacks_sent"] != 5.0 {
		t.Errorf("attacks_sent: got %v, want 5", body["attacks_sent"])
	}
	results, _ := body["results"].([]any)
	if len(results) != 5 {
		t.Errorf("results: got %d, want 5", len(results))
	}
	first := results[0].(map[string]any)
	if first["blocked"] != true || first["status"] != 403.0 {
		t.Errorf("first attempt: %v", first)
	}
}

func TestHandler_attackDefaultsToBackend(t *testing.T) {
	r, _ := newTestRouter(t)

	_, body := get(t, r, "/attack/dos")
	if body["target"] != "backend" || body["attacks_sent"] != 2.0 {
		t.Errorf("unexpected report: target=%v attacks_sent=%v", body["target"], body["attacks_sent"])
	}
}

func TestHandler_attackErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	if w, _ := get(t, r, "/attack/buffer-overflow"); w.Code != http.StatusNotFound {
		t.Errorf("unknown category: got %d, want 404", w.Code)
	}
	if w, _ := get(t, r, "/attack/xss?target=mainframe"); w.Code != http.StatusBadRequest {
		t.Errorf("unknown target: got %d, want 400", w.Code)
	}
	if w, _ := get(t, r, "/attack/auto?target=mainframe"); w.Code != http.StatusBadRequest {
		t.Errorf("auto unknown target: got %d, want 400", w.Code)
	}
}

func TestHandler_auto(t *testing.T) {
	r, _ := newTestRouter(t)

	w, body := get(t, r, "/attack/auto?intensity=low")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["intensity"] != "low" || body["total_attacks"] != 20.0 {
		t.Errorf("auto: intensity=%v total=%v", body["intensity"], body["total_attacks"])
	}
}

func TestHandler_comprehensiveAndLast(t *testing.T) {
	r, _ := newTestRouter(t)

	if w, _ := get(t, r, "/attack/comprehensive/last"); w.Code != http.StatusNotFound {
		t.Errorf("last before run: got %d, want 404", w.Code)
	}
	w, body := get(t, r, "/attack/comprehensive")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if body["success_rate"] != 100.0 {
		t.Errorf("success_rate: got %v", body["success_rate"])
	}
	w, last := get(t, r, "/attack/comprehensive/last")
	if w.Code != http.StatusOK || last["total_attacks"] != body["total_attacks"] {
		t.Errorf("last: got %d %v", w.Code, last["total_attacks"])
	}
}

func TestHandler_statsAndHealth(t *testing.T) {
	r, target := newTestRouter(t)

	_, stats := get(t, r, "/attack/stats")
	counts, _ := stats["payload_counts"].(map[string]any)
	if counts["sql-injection"] != 5.0 {
		t.Errorf("payload_counts: got %v", stats["payload_counts"])
	}
	endpoints, _ := stats["endpoints"].(map[string]any)
	if endpoints["dos"] != "/attack/dos?target=backend&count=2" {
		t.Errorf("dos endpoint: got %v", endpoints["dos"])
	}

	_, health := get(t, r, "/health")
	if health["status"] != "ok" || health["service"] != ServiceName {
		t.Errorf("health: %v", health)
	}
	if targets, _ := health["attack_targets"].([]any); len(targets) != 2 {
		t.Errorf("attack_targets: got %v", health["attack_targets"])
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.seen) != 0 {
		t.Error("stats and health should not send attacks")
	}
}
