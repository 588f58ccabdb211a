package threat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

// HistoryWindow is the trailing window used for frequency lookups.
const HistoryWindow = 7 * 24 * time.Hour

// Counter counts logged detections of a category inside a trailing window.
type Counter interface {
	CountRecent(ctx context.Context, category string, window time.Duration) (int, error)
}

// Adjuster looks up historical frequency for a category. A nil Counter or a
// failing one yields zero-valued data, so history can only ever raise a score
// when it is actually available.
type Adjuster struct {
	counter Counter
	logger  *zap.Logger
}

// NewAdjuster creates an Adjuster. counter may be nil.
func NewAdjuster(counter Counter, logger *zap.Logger) *Adjuster {
	return &Adjuster{counter: counter, logger: logger}
}

// Lookup returns the 7-day frequency summary for c.
func (a *Adjuster) Lookup(ctx context.Context, c detect.Category) HistoricalData {
	if a == nil || a.counter == nil || c == detect.CategoryNone {
		return HistoricalData{}
	}
	n, err := a.counter.CountRecent(ctx, string(c), HistoryWindow)
	if err != nil {
		a.logger.Warn("historical lookup failed (non-fatal)",
			zap.String("category", string(c)),
			zap.Error(err),
		)
		return HistoricalData{}
	}
	return HistoricalData{
		AvgFrequency: float64(n) / 7,
		TotalSamples: n,
	}
}
