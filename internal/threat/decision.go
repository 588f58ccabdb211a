package threat

import (
	"fmt"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

// Action is the defense action chosen for a request.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// challengeRatio is the fraction of a threshold at which a request is
// challenged rather than allowed.
const challengeRatio = 0.7

// Decision is the outcome of comparing a threat score to a threshold.
type Decision struct {
	ShouldBlock bool    `json:"should_block"`
	Action      Action  `json:"action"`
	Reason      string  `json:"reason"`
	Confidence  float64 `json:"confidence"`
}

// Thresholds holds per-category block thresholds. The zero value blocks every
// request; use DefaultThresholds for the built-in table.
type Thresholds struct {
	ByCategory map[detect.Category]float64
	Default    float64
}

// DefaultThresholds returns the built-in threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ByCategory: map[detect.Category]float64{
			detect.CategorySQLInjection:  0.85,
			detect.CategoryXSS:           0.80,
			detect.CategoryDoS:           0.75,
			detect.CategoryPathTraversal: 0.90,
		},
		Default: 0.70,
	}
}

// For returns the block threshold for c.
func (t Thresholds) For(c detect.Category) float64 {
	if v, ok := t.ByCategory[c]; ok {
		return v
	}
	return t.Default
}

// Decide classifies score for category c.
func (t Thresholds) Decide(c detect.Category, score float64) Decision {
	threshold := t.For(c)

	var action Action
	switch {
	case score >= threshold:
		action = ActionBlock
	case score >= challengeRatio*threshold:
		action = ActionChallenge
	default:
		action = ActionAllow
	}

	return Decision{
		ShouldBlock: action == ActionBlock,
		Action:      action,
		Reason:      fmt.Sprintf("%s: threat score %.3f against threshold %.2f (%s)", c, score, threshold, action),
		Confidence:  score,
	}
}
