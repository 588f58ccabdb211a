package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

const defaultStrikeURL = "http://localhost:8888"

var (
	strikeURL     string
	attackTarget  string
	attackCount   int
	attackFormat  string
	attackTimeout time.Duration
)

var attackCmd = &cobra.Command{
	Use:   "attack <category>",
	Short: "Ask the strike service to launch a synthetic attack",
	Long: `Attack triggers /attack/<category> on a strike service and prints every
attempt with its outcome:

  edgectl attack xss --target backend --count 3
  edgectl attack path-traversal --strike http://localhost:8888`,
	Args: cobra.ExactArgs(1),
	RunE: runAttack,
}

func init() {
	attackCmd.Flags().StringVar(&strikeURL, "strike", "", "Strike service base URL (default "+defaultStrikeURL+")")
	attackCmd.Flags().StringVar(&attackTarget, "target", "", "Target name configured on the strike service (default backend)")
	attackCmd.Flags().IntVar(&attackCount, "count", 0, "Payloads to send; 0 uses the category default")
	attackCmd.Flags().StringVar(&attackFormat, "format", "text", "Output format: text or json")
	attackCmd.Flags().DurationVar(&attackTimeout, "timeout", 2*time.Minute, "Overall timeout for the attack run")
}

func runAttack(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), attackTimeout)
	defer cancel()

	c, err := client.New(strikeURL, client.WithTimeout(attackTimeout))
	if err != nil {
		return err
	}
	rep, err := c.LaunchAttack(ctx, args[0], attackTarget, attackCount)
	if err != nil {
		return fmt.Errorf("attack %s: %w", args[0], err)
	}

	if attackFormat == "json" {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	return printAttack(cmd.OutOrStdout(), rep)
}
