package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

var (
	detectionsLimit  int
	detectionsFormat string
)

var detectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "List recent detections logged by the sentinel",
	Args:  cobra.NoArgs,
	RunE:  runDetections,
}

func init() {
	detectionsCmd.Flags().IntVar(&detectionsLimit, "limit", 20, "Maximum rows to return")
	detectionsCmd.Flags().StringVar(&detectionsFormat, "format", "text", "Output format: text or json")
}

func runDetections(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := client.New(sentinelURL, client.WithTimeout(requestTimeout))
	if err != nil {
		return err
	}
	records, err := c.RecentDetections(ctx, detectionsLimit)
	if err != nil {
		return fmt.Errorf("list detections: %w", err)
	}

	if detectionsFormat == "json" {
		return printJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no detections recorded")
		return nil
	}
	return printDetections(cmd.OutOrStdout(), records)
}
