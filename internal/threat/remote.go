package threat

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

// RemoteAnalyzer delegates analysis to another sentinel's /analyze-threat
// endpoint.
type RemoteAnalyzer struct {
	c *client.Client
}

// NewRemoteAnalyzer creates a RemoteAnalyzer using c.
func NewRemoteAnalyzer(c *client.Client) *RemoteAnalyzer {
	return &RemoteAnalyzer{c: c}
}

// Analyze implements Analyzer. Any transport failure or non-2xx response is
// returned as an error for the caller to fall back on.
func (r *RemoteAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	resp, err := r.c.AnalyzeThreat(ctx, client.AnalyzeRequest{
		AttackLogID: req.AttackLogID,
		Category:    string(req.Category),
		Confidence:  req.Confidence,
		Evidence:    req.Evidence,
	})
	if err != nil {
		return nil, fmt.Errorf("remote analysis: %w", err)
	}
	return &AnalysisResponse{
		ThreatScore:  clamp(resp.ThreatScore),
		ShouldBlock:  resp.ShouldBlock,
		Action:       Action(resp.Action),
		Reason:       resp.Reason,
		Confidence:   clamp(resp.Confidence),
		ModelVersion: resp.ModelVersion,
	}, nil
}
