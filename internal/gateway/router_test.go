package gateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/gateway"
	"github.com/jmerrifield20/EdgeSentinel/internal/storage"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Helpers ──────────────────────────────────────────────────────────────

type echoBackend struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newEchoBackend(t *testing.T) *echoBackend {
	t.Helper()
	b := &echoBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		w.Header().Set("Access-Control-Allow-Origin", "http://backend.example")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":          r.URL.Path,
			"threat_action": r.Header.Get(gateway.HeaderThreatAction),
			"threat_score":  r.Header.Get(gateway.HeaderThreatScore),
		})
	}))
	t.Cleanup(b.srv.Close)
	return b
}

type fixture struct {
	router  *gin.Engine
	store   *storage.MemoryStore
	backend *echoBackend
}

func newFixture(t *testing.T, thresholds threat.Thresholds) *fixture {
	t.Helper()
	backend := newEchoBackend(t)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	proxy, err := gateway.NewProxy(
		map[string]string{"backend": backend.srv.URL, "ai": downURL},
		map[string]string{"/api/v1/": "backend", "/api/ai/": "ai"},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}

	store := storage.NewMemoryStore()
	engine := threat.NewEngine(threat.NewAdjuster(store, zap.NewNop()), thresholds, "test-v1")
	svc := defense.NewService(detect.NewDetector(nil), engine, zap.NewNop())
	svc.SetStore(store)

	router := gateway.NewRouter(gateway.RouterOptions{
		Service:     svc,
		Proxy:       proxy,
		CORSOrigins: []string{"*"},
		Statuses:    func() map[string]string { return map[string]string{"backend": "healthy", "ai": "degraded"} },
		Logger:      zap.NewNop(),
	})
	return &fixture{router: router, store: store, backend: backend}
}

func (f *fixture) do(method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

// ── Forwarding ───────────────────────────────────────────────────────────

func TestRouter_forwardsBenignRequest(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodGet, "/api/v1/users?page=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["path"] != "/api/v1/users" {
		t.Errorf("forwarded path: got %v", body["path"])
	}
	if got := w.Header().Values("Access-Control-Allow-Origin"); len(got) != 1 || got[0] != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %v, want [*]", got)
	}
	if f.backend.hits.Load() != 1 {
		t.Errorf("backend hits: got %d, want 1", f.backend.hits.Load())
	}
}

func TestRouter_stripsClientThreatHeaders(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	h := http.Header{}
	h.Set(gateway.HeaderThreatAction, "challenge")
	h.Set(gateway.HeaderThreatScore, "0.99")
	w := f.do(http.MethodGet, "/api/v1/users", nil, h)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := decode(t, w)
	if body["threat_action"] != "" || body["threat_score"] != "" {
		t.Errorf("client-supplied threat headers reached backend: %v", body)
	}
}

func TestRouter_unmatchedPath(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodGet, "/nowhere", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "Not Found" {
		t.Errorf("error: got %v", body["error"])
	}
	if !strings.Contains(body["message"].(string), "/nowhere") {
		t.Errorf("message: got %v", body["message"])
	}
	paths, _ := body["available_paths"].([]any)
	if len(paths) != 2 {
		t.Errorf("available_paths: got %v", body["available_paths"])
	}
}

func TestRouter_backendUnavailable(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodGet, "/api/ai/models", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", w.Code)
	}
	if body := decode(t, w); body["error"] != "Container unavailable" {
		t.Errorf("error: got %v", body["error"])
	}
}

func TestRouter_preflight(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodOptions, "/api/v1/users", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
		t.Errorf("Allow-Methods: got %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Max-Age: got %q", got)
	}
	if f.backend.hits.Load() != 0 {
		t.Error("preflight should not reach the backend")
	}
}

// ── Guard ────────────────────────────────────────────────────────────────

func TestRouter_blocksSQLInjection(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodGet, "/api/v1/users?id=1'%20OR%20'1'='1", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403; body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["category"] != "sql-injection" {
		t.Errorf("category: got %v", body["category"])
	}
	if body["threat_score"] != 1.0 {
		t.Errorf("threat_score: got %v, want 1", body["threat_score"])
	}
	if id, _ := body["attack_log_id"].(string); id == "" {
		t.Error("expected attack_log_id")
	}
	if f.backend.hits.Load() != 0 {
		t.Error("blocked request reached the backend")
	}
}

func TestRouter_blocksOversizedBody(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	payload := bytes.Repeat([]byte("a"), 2_000_000)
	w := f.do(http.MethodPost, "/api/v1/upload", payload, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", w.Code)
	}
	if body := decode(t, w); body["category"] != "dos" {
		t.Errorf("category: got %v, want dos", body["category"])
	}
}

func TestRouter_blocksOversizedChunkedEncodedBody(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	// Decodes to about 2,000,000 bytes, but the first MaxBodyBytes+1 raw
	// bytes decode to a quarter of the ceiling.
	payload := "xx" + strings.Repeat("%61%62%63%64", 500_000)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(payload))
	req.ContentLength = -1
	req.Header.Set("Transfer-Encoding", "chunked")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403; body %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["category"] != "dos" {
		t.Errorf("category: got %v, want dos", body["category"])
	}
	if f.backend.hits.Load() != 0 {
		t.Error("oversized body reached the backend")
	}
}

func TestRouter_challengeIsForwardedWithHeaders(t *testing.T) {
	f := newFixture(t, threat.Thresholds{Default: 0.9})

	h := http.Header{}
	h.Set("X-Forwarded-Host", "evil.example%0d%0aSet-Cookie:session=1")
	w := f.do(http.MethodGet, "/api/v1/users", nil, h)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200; body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["threat_action"] != "challenge" {
		t.Errorf("threat_action: got %v, want challenge", body["threat_action"])
	}
	if body["threat_score"] != "0.750" {
		t.Errorf("threat_score: got %v, want 0.750", body["threat_score"])
	}
}

func TestRouter_forwardsBodyAfterInspection(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		got = buf.Bytes()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	proxy, err := gateway.NewProxy(map[string]string{"backend": srv.URL}, map[string]string{"/": "backend"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	svc := defense.NewService(detect.NewDetector(nil), threat.NewEngine(nil, threat.DefaultThresholds(), "test-v1"), zap.NewNop())
	router := gateway.NewRouter(gateway.RouterOptions{Service: svc, Proxy: proxy, MaxBodyBytes: 8})

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"widget"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201", w.Code)
	}
	if string(got) != `{"name":"widget"}` {
		t.Errorf("forwarded body: got %q", got)
	}
}

// ── Local API ────────────────────────────────────────────────────────────

func TestRouter_health(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["service"] != gateway.ServiceName {
		t.Errorf("unexpected health body: %v", body)
	}
	backends, _ := body["backends"].(map[string]any)
	if backends["ai"] != "degraded" {
		t.Errorf("backends: got %v", body["backends"])
	}
	if f.backend.hits.Load() != 0 {
		t.Error("health should be answered locally")
	}
}

func TestAnalyzeThreat(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodPost, "/analyze-threat",
		[]byte(`{"category":"sql-injection","confidence":0.9,"evidence":["SQL injection: quoted boolean tautology"]}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d; body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["threat_score"] != 1.0 || body["action"] != "block" || body["should_block"] != true {
		t.Errorf("unexpected analysis: %v", body)
	}
	if body["model_version"] != "test-v1" {
		t.Errorf("model_version: got %v", body["model_version"])
	}
}

func TestAnalyzeThreat_badRequests(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"category":`},
		{"missing category", `{"confidence":0.5}`},
		{"unknown category", `{"category":"buffer-overflow","confidence":0.5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/analyze-threat", []byte(tc.body), nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
			if body := decode(t, w); body["error"] == nil {
				t.Error("expected error field")
			}
		})
	}
}

func TestPredictBatch(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodPost, "/predict-batch", []byte(`[
		{"category":"xss","confidence":0.85,"evidence":["XSS: script tag"]},
		{"category":"header-injection","confidence":0.4,"evidence":[]}
	]`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d; body %s", w.Code, w.Body.String())
	}
	preds, _ := decode(t, w)["predictions"].([]any)
	if len(preds) != 2 {
		t.Fatalf("predictions: got %d, want 2", len(preds))
	}
	if first := preds[0].(map[string]any); first["action"] != "block" {
		t.Errorf("first action: got %v, want block", first["action"])
	}
	if second := preds[1].(map[string]any); second["action"] != "allow" {
		t.Errorf("second action: got %v, want allow", second["action"])
	}
}

func TestPredictBatch_rejectsNonArrayAndOversized(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	if w := f.do(http.MethodPost, "/predict-batch", []byte(`{"category":"xss"}`), nil); w.Code != http.StatusBadRequest {
		t.Errorf("object body: got %d, want 400", w.Code)
	}

	items := make([]string, defense.MaxBatchSize+1)
	for i := range items {
		items[i] = `{"category":"xss","confidence":0.5}`
	}
	big := "[" + strings.Join(items, ",") + "]"
	if w := f.do(http.MethodPost, "/predict-batch", []byte(big), nil); w.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: got %d, want 400", w.Code)
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	w := f.do(http.MethodPost, "/api/v1/inspect",
		[]byte(`{"method":"GET","path":"/search","query":"q=%3Cscript%3Ealert(1)%3C%2Fscript%3E"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d; body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	det := body["detection"].(map[string]any)
	if det["category"] != "xss" || det["is_attack"] != true {
		t.Errorf("detection: got %v", det)
	}
	analysis := body["analysis"].(map[string]any)
	if analysis["action"] != "block" {
		t.Errorf("action: got %v, want block", analysis["action"])
	}
	if f.backend.hits.Load() != 0 {
		t.Error("inspect should not forward")
	}
}

func TestDetectionsAndStats(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	blocked := f.do(http.MethodGet, "/api/v1/files?name=..%2F..%2Fetc%2Fpasswd", nil, nil)
	if blocked.Code != http.StatusForbidden {
		t.Fatalf("setup: got %d, want 403", blocked.Code)
	}
	id := decode(t, blocked)["attack_log_id"].(string)

	w := f.do(http.MethodGet, "/api/v1/detections?limit=10", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detections status: got %d", w.Code)
	}
	dets, _ := decode(t, w)["detections"].([]any)
	if len(dets) != 1 {
		t.Fatalf("detections: got %d, want 1", len(dets))
	}
	rec := dets[0].(map[string]any)
	if rec["attack_type"] != "path-traversal" || rec["action"] != "block" || rec["source"] != "edge" || rec["target"] != "backend" {
		t.Errorf("unexpected record: %v", rec)
	}

	w = f.do(http.MethodGet, "/api/v1/detections/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get detection: got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/api/v1/stats", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status: got %d", w.Code)
	}
	stats := decode(t, w)
	if stats["total"] != 1.0 || stats["window_days"] != 7.0 {
		t.Errorf("stats: got %v", stats)
	}

	w = f.do(http.MethodGet, "/api/v1/training", nil, nil)
	if samples, _ := decode(t, w)["samples"].([]any); len(samples) != 1 {
		t.Errorf("training samples: got %d, want 1", len(samples))
	}
}

func TestGetDetection_errors(t *testing.T) {
	f := newFixture(t, threat.DefaultThresholds())

	if w := f.do(http.MethodGet, "/api/v1/detections/not-a-uuid", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/v1/detections/"+uuid.NewString(), nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing id: got %d, want 404", w.Code)
	}
}

func TestReadSide_withoutStore(t *testing.T) {
	svc := defense.NewService(detect.NewDetector(nil), threat.NewEngine(nil, threat.DefaultThresholds(), "test-v1"), zap.NewNop())
	router := gateway.NewRouter(gateway.RouterOptions{Service: svc})

	for _, path := range []string{"/api/v1/detections", "/api/v1/training", "/api/v1/stats"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d, want 503", path, w.Code)
		}
	}
}
