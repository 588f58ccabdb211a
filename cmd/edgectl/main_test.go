package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/gateway"
	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// execute resets command state and runs edgectl with args, returning stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	inspectMethod, inspectPath, inspectQuery, inspectBody = http.MethodGet, "/", "", ""
	inspectHeaders = nil
	inspectLocal = false
	inspectFormat = "text"
	analyzeCategory, analyzeConfidence, analyzeEvidence = "", 0, nil
	analyzeLocal = false
	analyzeFormat = "text"
	attackTarget, attackCount, attackFormat = "", 0, "text"
	detectionsLimit, detectionsFormat = 20, "text"
	sentinelURL, strikeURL = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "edgectl dev") {
		t.Errorf("output = %q", out)
	}
}

func TestInspectLocal_SQLInjection(t *testing.T) {
	out, err := execute(t, "inspect", "--local", "--path", "/api/v1/users", "--query", "id=1' OR '1'='1", "--format", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var res client.InspectResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.Detection.IsAttack || res.Detection.Category != "sql-injection" {
		t.Fatalf("detection = %+v", res.Detection)
	}
	if res.Analysis == nil || res.Analysis.Action != "block" {
		t.Errorf("analysis = %+v, want block", res.Analysis)
	}
}

func TestInspectLocal_BenignText(t *testing.T) {
	out, err := execute(t, "inspect", "--local", "--path", "/api/v1/users", "--query", "page=2")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "none") || !strings.Contains(out, "allow") {
		t.Errorf("output = %q, want category none and allow", out)
	}
}

func TestInspectLocal_HeaderFlag(t *testing.T) {
	out, err := execute(t, "inspect", "--local", "-H", "X-Forwarded-Host: evil.example%0d%0aSet-Cookie: a=1", "--format", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var res client.InspectResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Detection.Category != "header-injection" {
		t.Errorf("category = %q, want header-injection", res.Detection.Category)
	}
}

func TestInspectRemote(t *testing.T) {
	srv := httptest.NewServer(gateway.NewRouter(gateway.RouterOptions{
		Service: newLocalService(),
		Logger:  zap.NewNop(),
	}))
	defer srv.Close()

	out, err := execute(t, "--sentinel", srv.URL, "inspect", "--path", "/file/..%2F..%2Fetc%2Fpasswd", "--format", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var res client.InspectResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Detection.Category != "path-traversal" {
		t.Errorf("category = %q, want path-traversal", res.Detection.Category)
	}
	if res.AttackLogID == "" {
		t.Error("expected attack log id from the sentinel")
	}
}

func TestInspect_BadHeader(t *testing.T) {
	if _, err := execute(t, "inspect", "--local", "-H", "no-colon"); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestAnalyzeLocal(t *testing.T) {
	out, err := execute(t, "analyze", "--local", "--category", "xss", "--confidence", "0.85",
		"--evidence", "a", "--evidence", "b", "--evidence", "c")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// 0.85 + 0.05 evidence bonus, ×1.1 weight → 0.990.
	if !strings.Contains(out, "0.990") || !strings.Contains(out, "block") {
		t.Errorf("output = %q", out)
	}
}

func TestAnalyze_UnknownCategory(t *testing.T) {
	if _, err := execute(t, "analyze", "--local", "--category", "bogus"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestDetections_Remote(t *testing.T) {
	svc := newLocalService()
	srv := httptest.NewServer(gateway.NewRouter(gateway.RouterOptions{Service: svc, Logger: zap.NewNop()}))
	defer srv.Close()

	out, err := execute(t, "--sentinel", srv.URL, "detections")
	if err != nil {
		t.Fatalf("detections: %v", err)
	}
	if !strings.Contains(out, "no detections recorded") {
		t.Errorf("empty output = %q", out)
	}

	if _, err := execute(t, "--sentinel", srv.URL, "inspect", "--query", "q=<script>alert(1)</script>"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out, err = execute(t, "--sentinel", srv.URL, "detections", "--limit", "5")
	if err != nil {
		t.Fatalf("detections: %v", err)
	}
	if !strings.Contains(out, "xss") || !strings.Contains(out, "CATEGORY") {
		t.Errorf("output = %q", out)
	}
}

func TestAttack_Remote(t *testing.T) {
	strike := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attack/xss" || r.URL.Query().Get("count") != "2" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.AttackReport{
			AttackType:  "xss",
			Target:      "backend",
			AttacksSent: 2,
			Results: []client.AttackAttempt{
				{Success: true, Status: 403, Blocked: true, PayloadPreview: "<script>"},
				{Success: true, Status: 200, PayloadPreview: "<img src=x>"},
			},
			Timestamp: time.Now(),
		})
	}))
	defer strike.Close()

	out, err := execute(t, "attack", "xss", "--strike", strike.URL, "--count", "2")
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	for _, want := range []string{"xss against backend: 2 sent", "blocked", "passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"Host: a.example", "X-Test:  two spaces"})
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	if got["Host"] != "a.example" || got["X-Test"] != "two spaces" {
		t.Errorf("got %v", got)
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("abc", 5); got != "abc" {
		t.Errorf("shorten short = %q", got)
	}
	if got := shorten("a\r\nb", 10); got != `a\r\nb` {
		t.Errorf("shorten control = %q", got)
	}
	if got := shorten("αβγδεζ", 4); got != "αβγ…" {
		t.Errorf("shorten runes = %q", got)
	}
}
