// Package client provides the EdgeSentinel Go SDK for the sentinel analysis
// API and the strike synthetic attack service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// AnalyzeRequest is the payload for AnalyzeThreat and PredictBatch.
type AnalyzeRequest struct {
	AttackLogID string   `json:"attack_log_id,omitempty"`
	Category    string   `json:"category"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence"`
}

// Analysis is a threat verdict.
type Analysis struct {
	ThreatScore  float64 `json:"threat_score"`
	ShouldBlock  bool    `json:"should_block"`
	Action       string  `json:"action"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Fallback     bool    `json:"fallback,omitempty"`
}

// InspectRequest describes an HTTP request to run through the full pipeline.
type InspectRequest struct {
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Query   string            `json:"query,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Detection is the raw detector output.
type Detection struct {
	IsAttack   bool     `json:"is_attack"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// InspectResult is the response from Inspect. Analysis is nil when no attack
// was detected.
type InspectResult struct {
	Detection   Detection `json:"detection"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	AttackLogID string    `json:"attack_log_id,omitempty"`
}

// DetectionRecord is a logged attack with its latest decision.
type DetectionRecord struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	AttackType   string    `json:"attack_type"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Payload      string    `json:"payload"`
	UserAgent    string    `json:"user_agent"`
	SourceIP     string    `json:"source_ip"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
	Action       string    `json:"action,omitempty"`
	Blocked      bool      `json:"blocked"`
	Reason       string    `json:"reason,omitempty"`
	ThreatScore  float64   `json:"threat_score"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// TrainingSample is one analysis metric row.
type TrainingSample struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Confidence    float64   `json:"confidence"`
	ThreatScore   float64   `json:"threat_score"`
	Action        string    `json:"action"`
	EvidenceCount int       `json:"evidence_count"`
	ModelVersion  string    `json:"model_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// CategoryCount is a per-category detection count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Stats summarises recent detections.
type Stats struct {
	WindowDays int             `json:"window_days"`
	Total      int             `json:"total"`
	Categories []CategoryCount `json:"categories"`
}

// Health is the /health payload of either service.
type Health struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Backends  map[string]string `json:"backends,omitempty"`
}

// AttackAttempt is the outcome of one synthetic payload.
type AttackAttempt struct {
	Target          string `json:"target,omitempty"`
	Success         bool   `json:"success"`
	Status          int    `json:"status,omitempty"`
	Blocked         bool   `json:"blocked"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	PayloadPreview  string `json:"payload_preview,omitempty"`
	ResponsePreview string `json:"response_preview,omitempty"`
	Error           string `json:"error,omitempty"`
}

// AttackReport is the response from LaunchAttack.
type AttackReport struct {
	AttackType  string          `json:"attack_type"`
	Target      string          `json:"target"`
	AttacksSent int             `json:"attacks_sent"`
	Results     []AttackAttempt `json:"results"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Client talks to one sentinel or strike base URL.
type Client struct {
	base       string
	httpClient *http.Client
	userAgent  string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for base, e.g. "http://localhost:3001".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", base)
	}

	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "edgesentinel-go",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// AnalyzeThreat scores a single detection.
func (c *Client) AnalyzeThreat(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	var out Analysis
	if err := c.call(ctx, http.MethodPost, "/analyze-threat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictBatch scores up to 100 detections in one call. Results are in input
// order.
func (c *Client) PredictBatch(ctx context.Context, reqs []AnalyzeRequest) ([]Analysis, error) {
	if reqs == nil {
		reqs = []AnalyzeRequest{}
	}
	var out struct {
		Predictions []Analysis `json:"predictions"`
	}
	if err := c.call(ctx, http.MethodPost, "/predict-batch", reqs, &out); err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

// Inspect runs a described request through detection and analysis.
func (c *Client) Inspect(ctx context.Context, req InspectRequest) (*InspectResult, error) {
	var out InspectResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/inspect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentDetections lists the most recent logged attacks, newest first.
func (c *Client) RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	var out struct {
		Detections []DetectionRecord `json:"detections"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/detections"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

// RecentTraining lists the most recent training samples, newest first.
func (c *Client) RecentTraining(ctx context.Context, limit int) ([]TrainingSample, error) {
	var out struct {
		Samples []TrainingSample `json:"samples"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/training"+limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Samples, nil
}

// Stats returns 7-day detection counts by category.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.call(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the service health document.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LaunchAttack asks a strike service to run one category against target.
// A zero count uses the service default.
func (c *Client) LaunchAttack(ctx context.Context, category, target string, count int) (*AttackReport, error) {
	q := url.Values{}
	if target != "" {
		q.Set("target", target)
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	path := "/attack/" + url.PathEscape(category)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out AttackReport
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

// call sends body as JSON (when non-nil) and decodes a 2xx response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
