package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/health"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// deliveryTimeout bounds one event's delivery including retries. Deliveries
// outlive the request that triggered them.
const deliveryTimeout = time.Minute

// backoff is the wait before each retry when retries are enabled.
var backoff = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}

// Dispatcher fans events out to configured webhook subscriptions.
type Dispatcher struct {
	subs       []Subscription
	httpClient *http.Client
	onMetrics  MetricsRecorder
	// retryDelays[i] is the wait before attempt i+1.
	retryDelays []time.Duration
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// NewDispatcher creates a Dispatcher for subs. Each event is delivered once
// per subscription until SetMaxAttempts enables retries.
func NewDispatcher(subs []Subscription, logger *zap.Logger) *Dispatcher {
	cp := make([]Subscription, len(subs))
	copy(cp, subs)
	return &Dispatcher{
		subs:        cp,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{0},
		logger:      logger,
	}
}

// SetMaxAttempts allows up to n delivery attempts per subscription, waiting
// 1s, 5s and then 25s between them. Values below 1 are treated as 1.
func (d *Dispatcher) SetMaxAttempts(n int) {
	delays := []time.Duration{0}
	for i := 1; i < n; i++ {
		delays = append(delays, backoff[min(i-1, len(backoff)-1)])
	}
	d.retryDelays = delays
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Len returns the number of subscriptions.
func (d *Dispatcher) Len() int { return len(d.subs) }

// Notify implements defense.Notifier. Block and challenge verdicts are
// dispatched; allowed attacks are not.
func (d *Dispatcher) Notify(_ context.Context, in defense.Inbound, v *defense.Verdict) {
	var eventType string
	switch v.Action() {
	case threat.ActionBlock:
		eventType = EventAttackBlocked
	case threat.ActionChallenge:
		eventType = EventAttackChallenged
	default:
		return
	}

	payload := map[string]string{
		"category":   v.Detection.Category.String(),
		"action":     string(v.Action()),
		"method":     in.Request.Method,
		"path":       in.Request.Path,
		"source":     in.Source,
		"target":     in.Target,
		"source_ip":  in.SourceIP,
		"user_agent": in.UserAgent,
	}
	if v.Analysis != nil {
		payload["threat_score"] = strconv.FormatFloat(v.Analysis.ThreatScore, 'f', 3, 64)
		payload["reason"] = v.Analysis.Reason
	}
	if v.AttackLogID != "" {
		payload["attack_log_id"] = v.AttackLogID
	}
	d.Dispatch(eventType, payload)
}

// BackendStatus dispatches a health transition. Its signature matches
// health.StatusChangeFunc.
func (d *Dispatcher) BackendStatus(name, status string) {
	switch status {
	case health.StatusDegraded:
		d.Dispatch(EventBackendDegraded, map[string]string{"backend": name, "status": status})
	case health.StatusHealthy:
		d.Dispatch(EventBackendRecovered, map[string]string{"backend": name, "status": status})
	}
}

// Dispatch sends an event to every matching subscription in the background.
func (d *Dispatcher) Dispatch(eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, sub := range d.subs {
		if !sub.wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func(sub Subscription) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			d.deliver(ctx, sub, event)
		}(sub)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver sends the event to a single subscription with retries.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("alert: marshal event", zap.Error(err))
		return
	}

	var signature string
	if sub.Secret != "" {
		signature = signPayload(body, sub.Secret)
	}

	for attempt := 1; attempt <= len(d.retryDelays); attempt++ {
		if wait := d.retryDelays[attempt-1]; wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}

		success, statusCode, errMsg := d.doDelivery(ctx, sub.URL, body, signature)
		d.record(delivery{
			eventID:    event.ID,
			eventType:  event.Type,
			url:        sub.URL,
			statusCode: statusCode,
			attempt:    attempt,
			success:    success,
			err:        errMsg,
		})
		if success {
			return
		}
	}
}

// record reports one attempt to the metrics callback and logs failures.
func (d *Dispatcher) record(del delivery) {
	if d.onMetrics != nil {
		d.onMetrics(del.success)
	}
	if !del.success {
		d.logger.Warn("alert: delivery failed",
			zap.String("url", del.url),
			zap.String("event", del.eventType),
			zap.String("event_id", del.eventID.String()),
			zap.Int("attempt", del.attempt),
			zap.Int("status", del.statusCode),
			zap.String("error", del.err),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (d *Dispatcher) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
