package attack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

// Sentinel errors returned by the driver.
var (
	ErrUnknownTarget   = errors.New("unknown attack target")
	ErrUnknownCategory = errors.New("unknown attack category")
)

// DefaultUserAgent identifies synthetic traffic.
const DefaultUserAgent = "Strike-Attack-Bot/1.0"

// Request headers carried by every synthetic request.
const (
	HeaderAttackType       = "X-Attack-Type"
	HeaderAttackSimulation = "X-Attack-Simulation"
)

// headerPlacementKey carries payloads with PlacementHeader.
const headerPlacementKey = "X-Forwarded-Host"

// Preview lengths, in characters.
const (
	payloadPreviewChars  = 50
	responsePreviewChars = 100
)

// autoDelay is the pause between requests in auto mode.
const autoDelay = 150 * time.Millisecond

// Intensity levels for auto mode, in payloads per category per target.
var intensityCounts = map[string]int{
	"low":    1,
	"medium": 2,
	"high":   3,
}

const defaultIntensity = "medium"

// Attempt is the outcome of one synthetic request.
type Attempt struct {
	Target          string `json:"target,omitempty"`
	Success         bool   `json:"success"`
	Status          int    `json:"status,omitempty"`
	Blocked         bool   `json:"blocked"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	PayloadPreview  string `json:"payload_preview,omitempty"`
	ResponsePreview string `json:"response_preview,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Report is the result of a single-category run.
type Report struct {
	AttackType  string    `json:"attack_type"`
	Target      string    `json:"target"`
	AttacksSent int       `json:"attacks_sent"`
	Results     []Attempt `json:"results"`
	Timestamp   time.Time `json:"timestamp"`
}

// AutoReport is the result of an auto run.
type AutoReport struct {
	AttackMode   string               `json:"attack_mode"`
	Intensity    string               `json:"intensity"`
	Targets      []string             `json:"targets"`
	TotalAttacks int                  `json:"total_attacks"`
	Results      map[string][]Attempt `json:"results"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ComprehensiveReport is the result of a run over every category, payload
// and target.
type ComprehensiveReport struct {
	Targets      []string             `json:"targets"`
	TotalAttacks int                  `json:"total_attacks"`
	Successful   int                  `json:"successful"`
	Failed       int                  `json:"failed"`
	Blocked      int                  `json:"blocked"`
	SuccessRate  float64              `json:"success_rate"`
	Results      map[string][]Attempt `json:"results"`
	StartedAt    time.Time            `json:"started_at"`
	DurationMs   int64                `json:"duration_ms"`
}

// Config configures a Driver.
type Config struct {
	// Targets maps target names to base URLs.
	Targets   map[string]string
	Timeout   time.Duration
	UserAgent string
	// DisableThrottle removes the inter-request delay.
	DisableThrottle bool
}

// Driver sends catalog payloads to targets. Runs are serialised: at most one
// sequence is in flight at a time, and each sequence sends one request at a
// time.
type Driver struct {
	catalog   *Catalog
	targets   map[string]string
	names     []string
	client    *http.Client
	userAgent string
	throttle  bool
	logger    *zap.Logger

	runMu sync.Mutex

	lastMu   sync.RWMutex
	lastComp *ComprehensiveReport
}

// NewDriver creates a Driver.
func NewDriver(catalog *Catalog, cfg Config, logger *zap.Logger) (*Driver, error) {
	if catalog == nil {
		return nil, errors.New("attack: nil catalog")
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("attack: no targets configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	d := &Driver{
		catalog:   catalog,
		targets:   make(map[string]string, len(cfg.Targets)),
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		throttle:  !cfg.DisableThrottle,
		logger:    logger,
	}
	for name, raw := range cfg.Targets {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("attack: target %q: invalid base URL %q", name, raw)
		}
		d.targets[name] = strings.TrimRight(raw, "/")
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)
	return d, nil
}

// Catalog returns the driver's payload catalog.
func (d *Driver) Catalog() *Catalog { return d.catalog }

// Targets returns the configured target names in sorted order.
func (d *Driver) Targets() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// resolveTargets expands "both", "all" or "" to every target.
func (d *Driver) resolveTargets(target string) ([]string, error) {
	switch target {
	case "", "both", "all":
		return d.Targets(), nil
	}
	if _, ok := d.targets[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	return []string{target}, nil
}

func (d *Driver) entry(category string) (*Entry, error) {
	c, ok := detect.ParseCategory(category)
	if ok {
		if e, found := d.catalog.Entry(c); found {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// pause waits delay after an attempt. It reports false once ctx is done.
func (d *Driver) pause(ctx context.Context, delay time.Duration) bool {
	if !d.throttle || delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run sends up to count payloads of category to target. count <= 0 uses the
// category's default; larger counts are capped by its MaxAttempts. A
// cancelled ctx ends the run early with the attempts made so far.
func (d *Driver) Run(ctx context.Context, category, target string, count int) (*Report, error) {
	e, err := d.entry(category)
	if err != nil {
		return nil, err
	}
	if _, ok := d.targets[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	n := e.Attempts(count)
	results := make([]Attempt, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		results = append(results, d.launch(ctx, target, e, e.Payload(i)))
		if i < n-1 && !d.pause(ctx, e.Delay) {
			break
		}
	}

	return &Report{
		AttackType:  string(e.Category),
		Target:      target,
		AttacksSent: len(results),
		Results:     results,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// RunAuto sends intensity-many payloads of every category to each target.
// Unknown intensities fall back to medium.
func (d *Driver) RunAuto(ctx context.Context, target, intensity string) (*AutoReport, error) {
	targets, err := d.resolveTargets(target)
	if err != nil {
		return nil, err
	}
	count, ok := intensityCounts[intensity]
	if !ok {
		intensity = defaultIntensity
		count = intensityCounts[intensity]
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	rep := &AutoReport{
		AttackMode: "auto",
		Intensity:  intensity,
		Targets:    targets,
		Results:    make(map[string][]Attempt),
	}
run:
	for _, c := range d.catalog.Categories() {
		e, _ := d.catalog.Entry(c)
		for _, t := range targets {
			for i := 0; i < count; i++ {
				if ctx.Err() != nil || (rep.TotalAttacks > 0 && !d.pause(ctx, autoDelay)) {
					break run
				}
				rep.Results[string(c)] = append(rep.Results[string(c)], d.launch(ctx, t, e, e.Payload(i)))
				rep.TotalAttacks++
			}
		}
	}
	rep.Timestamp = time.Now().UTC()
	return rep, nil
}

// RunComprehensive sends every payload of every category to every target and
// keeps the report as the latest comprehensive result.
func (d *Driver) RunComprehensive(ctx context.Context) *ComprehensiveReport {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	start := time.Now()
	rep := &ComprehensiveReport{
		Targets:   d.Targets(),
		Results:   make(map[string][]Attempt),
		StartedAt: start.UTC(),
	}
	var delay time.Duration
run:
	for _, c := range d.catalog.Categories() {
		e, _ := d.catalog.Entry(c)
		for _, t := range rep.Targets {
			for _, p := range e.Payloads {
				// delay belongs to the previous attempt, which may be of another category.
				if ctx.Err() != nil || (rep.TotalAttacks > 0 && !d.pause(ctx, delay)) {
					break run
				}
				delay = e.Delay
				a := d.launch(ctx, t, e, p)
				rep.Results[string(c)] = append(rep.Results[string(c)], a)
				rep.TotalAttacks++
				if a.Success {
					rep.Successful++
				} else {
					rep.Failed++
				}
				if a.Blocked {
					rep.Blocked++
				}
			}
		}
	}
	if rep.TotalAttacks > 0 {
		rep.SuccessRate = float64(rep.Successful) / float64(rep.TotalAttacks) * 100
	}
	rep.DurationMs = time.Since(start).Milliseconds()
	strikeComprehensiveRunsTotal.Inc()

	d.lastMu.Lock()
	d.lastComp = rep
	d.lastMu.Unlock()
	return rep
}

// LastComprehensive returns the most recent comprehensive report, or nil.
func (d *Driver) LastComprehensive() *ComprehensiveReport {
	d.lastMu.RLock()
	defer d.lastMu.RUnlock()
	return d.lastComp
}

// StartSchedule runs a comprehensive pass every interval until ctx is done.
func (d *Driver) StartSchedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rep := d.RunComprehensive(ctx)
			d.logger.Info("scheduled comprehensive run complete",
				zap.Int("total_attacks", rep.TotalAttacks),
				zap.Int("blocked", rep.Blocked),
				zap.Int("failed", rep.Failed),
				zap.Float64("success_rate", rep.SuccessRate),
			)
		case <-ctx.Done():
			return
		}
	}
}

// launch sends one payload. Failures are recorded on the Attempt and never
// returned.
func (d *Driver) launch(ctx context.Context, target string, e *Entry, payload string) Attempt {
	start := time.Now()
	a := Attempt{Target: target}

	req, err := d.buildRequest(ctx, d.targets[target], e, payload)
	if err == nil {
		var resp *http.Response
		resp, err = d.client.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			a.Success = true
			a.Status = resp.StatusCode
			a.Blocked = resp.StatusCode == http.StatusForbidden
			a.PayloadPreview = preview(payload, payloadPreviewChars)
			a.ResponsePreview = preview(string(body), responsePreviewChars)
		}
	}
	a.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		a.Error = err.Error()
		d.logger.Warn("synthetic attack failed",
			zap.String("category", string(e.Category)),
			zap.String("target", target),
			zap.Error(err),
		)
	}
	recordAttempt(string(e.Category), a)
	return a
}

func (d *Driver) buildRequest(ctx context.Context, base string, e *Entry, payload string) (*http.Request, error) {
	var (
		method = http.MethodGet
		target string
		body   io.Reader
	)
	switch e.Placement {
	case PlacementPath:
		target = base + "/file/" + url.PathEscape(payload)
	case PlacementBody:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(map[string]any{"data": payload, "test": true}); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		method = http.MethodPost
		target = base + "/api/test"
		body = &buf
	case PlacementHeader:
		target = base + "/api/test"
	default:
		target = base + "/api/test?input=" + url.QueryEscape(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderAttackType, string(e.Category))
	req.Header.Set(HeaderAttackSimulation, "true")
	if e.Placement == PlacementHeader {
		req.Header.Set(headerPlacementKey, payload)
	}
	return req, nil
}

// preview returns the first n characters of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
