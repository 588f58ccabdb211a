// Package threat turns a detection into a defense decision. Detections are
// scored against a static per-category weight table nudged by historical
// frequency, and the resulting score is compared with per-category
// thresholds to choose allow, challenge or block.
package threat

import (
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

// HistoricalData summarises how often a category was seen recently.
type HistoricalData struct {
	// AvgFrequency is the mean number of detections per day over the window.
	AvgFrequency float64 `json:"avg_frequency"`
	TotalSamples int     `json:"total_samples"`
}

const (
	// frequentCategoryRate is the daily average above which a category is
	// considered frequent.
	frequentCategoryRate = 50
	frequentCategoryBump = 0.1

	// multiSignalEvidence is the evidence count above which a detection is
	// considered multi-signal.
	multiSignalEvidence = 2
	multiSignalBump     = 0.05
)

// weights are multiplicative per-category score weights. Unlisted categories
// are unweighted.
var weights = map[detect.Category]float64{
	detect.CategorySQLInjection:  1.2,
	detect.CategoryXSS:           1.1,
	detect.CategoryPathTraversal: 1.3,
	detect.CategoryDoS:           1.0,
}

// Weight returns the score multiplier for c.
func Weight(c detect.Category) float64 {
	if w, ok := weights[c]; ok {
		return w
	}
	return 1.0
}

// Score computes the threat score for a detection. It is pure: the same
// inputs always produce the same score, which is always within [0, 1].
func Score(c detect.Category, baseConfidence float64, evidence []string, hist HistoricalData) float64 {
	score := baseConfidence
	if hist.AvgFrequency > frequentCategoryRate {
		score += frequentCategoryBump
	}
	if len(evidence) > multiSignalEvidence {
		score += multiSignalBump
	}
	score *= Weight(c)
	return clamp(score)
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN is treated as zero
		return 0
	case v > 1:
		return 1
	}
	return v
}
