package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

var (
	analyzeCategory   string
	analyzeConfidence float64
	analyzeEvidence   []string
	analyzeLocal      bool
	analyzeFormat     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score a detection and show the resulting decision",
	Long: `Analyze sends a detection to the sentinel's /analyze-threat endpoint, or
scores it in-process with --local.

  edgectl analyze --category sql-injection --confidence 0.9 \
      --evidence "SQL injection: UNION SELECT" --evidence "SQL injection: comment after quote"`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCategory, "category", "", "Attack category (required)")
	analyzeCmd.Flags().Float64Var(&analyzeConfidence, "confidence", 0, "Detector confidence in [0,1]")
	analyzeCmd.Flags().StringArrayVar(&analyzeEvidence, "evidence", nil, "Evidence string (repeatable)")
	analyzeCmd.Flags().BoolVar(&analyzeLocal, "local", false, "Score in-process instead of calling the sentinel")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "text", "Output format: text or json")
	_ = analyzeCmd.MarkFlagRequired("category")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	category, ok := detect.ParseCategory(analyzeCategory)
	if !ok || category == detect.CategoryNone {
		return fmt.Errorf("unknown category %q", analyzeCategory)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var a *client.Analysis
	if analyzeLocal {
		resp, err := newLocalService().Analyze(ctx, threat.AnalysisRequest{
			Category:   category,
			Confidence: analyzeConfidence,
			Evidence:   analyzeEvidence,
		})
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		a = resultFromVerdict(&defense.Verdict{Analysis: resp}).Analysis
	} else {
		c, err := client.New(sentinelURL, client.WithTimeout(requestTimeout))
		if err != nil {
			return err
		}
		a, err = c.AnalyzeThreat(ctx, client.AnalyzeRequest{
			Category:   string(category),
			Confidence: analyzeConfidence,
			Evidence:   analyzeEvidence,
		})
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
	}

	if analyzeFormat == "json" {
		return printJSON(cmd.OutOrStdout(), a)
	}
	return printAnalysis(cmd.OutOrStdout(), a)
}
