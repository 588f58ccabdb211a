package threat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

// ErrUnknownCategory is returned when an analysis names a category outside
// the closed set.
var ErrUnknownCategory = errors.New("unknown attack category")

// FallbackModelVersion identifies decisions made by Fallback.
const FallbackModelVersion = "fallback-v1"

// fallbackBlockConfidence is the confidence above which Fallback blocks.
const fallbackBlockConfidence = 0.8

// AnalysisRequest is the input to an Analyzer.
type AnalysisRequest struct {
	AttackLogID string          `json:"attack_log_id,omitempty"`
	Category    detect.Category `json:"category"`
	Confidence  float64         `json:"confidence"`
	Evidence    []string        `json:"evidence"`
}

// AnalysisResponse is an Analyzer's verdict.
type AnalysisResponse struct {
	ThreatScore  float64 `json:"threat_score"`
	ShouldBlock  bool    `json:"should_block"`
	Action       Action  `json:"action"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Fallback     bool    `json:"fallback,omitempty"`
}

// Analyzer scores a detection and decides what to do with it.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error)
}

// Engine is the in-process Analyzer: historical lookup, Score, then Decide.
type Engine struct {
	adjuster     *Adjuster
	thresholds   Thresholds
	modelVersion string
}

// NewEngine creates an Engine. adjuster may be nil, in which case no
// historical adjustment is applied.
func NewEngine(adjuster *Adjuster, thresholds Thresholds, modelVersion string) *Engine {
	return &Engine{adjuster: adjuster, thresholds: thresholds, modelVersion: modelVersion}
}

// ModelVersion returns the version string stamped on every response.
func (e *Engine) ModelVersion() string { return e.modelVersion }

// Analyze implements Analyzer.
func (e *Engine) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	if _, ok := detect.ParseCategory(string(req.Category)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, req.Category)
	}

	confidence := clamp(req.Confidence)
	if req.Category == detect.CategoryNone {
		return &AnalysisResponse{
			Action:       ActionAllow,
			Reason:       "no attack detected",
			Confidence:   confidence,
			ModelVersion: e.modelVersion,
		}, nil
	}

	hist := e.adjuster.Lookup(ctx, req.Category)
	score := Score(req.Category, confidence, req.Evidence, hist)
	d := e.thresholds.Decide(req.Category, score)

	return &AnalysisResponse{
		ThreatScore:  score,
		ShouldBlock:  d.ShouldBlock,
		Action:       d.Action,
		Reason:       d.Reason,
		Confidence:   d.Confidence,
		ModelVersion: e.modelVersion,
	}, nil
}

// Fallback is the deterministic verdict used when no Analyzer is reachable:
// block when the detection confidence exceeds 0.8, otherwise allow.
func Fallback(req AnalysisRequest, cause error) *AnalysisResponse {
	confidence := clamp(req.Confidence)
	block := confidence > fallbackBlockConfidence

	action := ActionAllow
	if block {
		action = ActionBlock
	}
	reason := fmt.Sprintf("analysis unavailable; %s confidence %.2f (fallback rule)", req.Category, confidence)
	if cause != nil {
		reason += ": " + cause.Error()
	}

	return &AnalysisResponse{
		ThreatScore:  confidence,
		ShouldBlock:  block,
		Action:       action,
		Reason:       reason,
		Confidence:   confidence,
		ModelVersion: FallbackModelVersion,
		Fallback:     true,
	}
}
