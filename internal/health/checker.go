// Package health probes the named backends behind the edge and tracks
// whether each one is healthy or degraded.
package health

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend status values.
const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
	// Path is appended to each backend base URL when probing.
	Path string
}

// Target is a backend to probe.
type Target struct {
	Name string
	URL  string
}

// TargetLister returns the backends to probe.
type TargetLister interface {
	ListTargets(ctx context.Context) ([]Target, error)
}

// StaticTargets is a fixed TargetLister built from configuration.
type StaticTargets []Target

// ListTargets implements TargetLister.
func (s StaticTargets) ListTargets(context.Context) ([]Target, error) {
	return s, nil
}

// TargetsFromMap builds StaticTargets from a name → base URL map, sorted by
// name.
func TargetsFromMap(m map[string]string) StaticTargets {
	out := make(StaticTargets, 0, len(m))
	for name, u := range m {
		out = append(out, Target{Name: name, URL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StatusChangeFunc is an optional callback invoked when a backend moves
// between healthy and degraded.
type StatusChangeFunc func(name, status string)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// HealthChecker runs periodic backend health probes.
type HealthChecker struct {
	lister     TargetLister
	httpClient *http.Client
	failCounts map[string]int
	statuses   map[string]string
	mu         sync.Mutex
	cfg        Config
	onChange   StatusChangeFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new HealthChecker.
func New(lister TargetLister, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if cfg.Path == "" {
		cfg.Path = "/health"
	}

	return &HealthChecker{
		lister:     lister,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[string]int),
		statuses:   make(map[string]string),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetStatusChange configures the status change callback.
func (h *HealthChecker) SetStatusChange(fn StatusChangeFunc) {
	h.onChange = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Statuses returns a snapshot of every known backend's status.
func (h *HealthChecker) Statuses() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.statuses))
	for k, v := range h.statuses {
		out[k] = v
	}
	return out
}

// AllDegraded reports whether every known backend is degraded. It is false
// when no backend has been probed.
func (h *HealthChecker) AllDegraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) == 0 {
		return false
	}
	for _, s := range h.statuses {
		if s != StatusDegraded {
			return false
		}
	}
	return true
}

// Start probes immediately and then every CheckInterval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			h.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthChecker) runOnce(parent context.Context) {
	timeout := h.cfg.CheckInterval - time.Second
	if timeout < h.cfg.ProbeTimeout {
		timeout = h.cfg.ProbeTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	h.CheckAll(ctx)
}

// CheckAll probes every backend with bounded concurrency.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	targets, err := h.lister.ListTargets(ctx)
	if err != nil {
		h.logger.Error("health: list targets", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, t := range targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := h.probeEndpoint(ctx, strings.TrimRight(target.URL, "/")+h.cfg.Path)

			if h.onMetrics != nil {
				h.onMetrics(target.Name, success)
			}

			h.mu.Lock()
			prev, seen := h.statuses[target.Name]
			if !seen {
				prev = StatusUnknown
				h.statuses[target.Name] = prev
			}
			if success {
				h.failCounts[target.Name] = 0
			} else {
				h.failCounts[target.Name]++
			}
			count := h.failCounts[target.Name]

			next := prev
			switch {
			case success:
				next = StatusHealthy
			case count >= h.cfg.FailThreshold:
				next = StatusDegraded
			}
			h.statuses[target.Name] = next
			h.mu.Unlock()

			if next == prev {
				return
			}
			switch next {
			case StatusHealthy:
				if prev == StatusDegraded {
					h.logger.Info("health: recovered", zap.String("backend", target.Name))
				}
			case StatusDegraded:
				h.logger.Warn("health: degraded",
					zap.String("backend", target.Name),
					zap.Int("fail_count", count),
				)
			}
			if h.onChange != nil {
				h.onChange(target.Name, next)
			}
		}(t)
	}

	wg.Wait()
}

// probeEndpoint attempts HEAD then GET, returning true if any 2xx response.
func (h *HealthChecker) probeEndpoint(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
