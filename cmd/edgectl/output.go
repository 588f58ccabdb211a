package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/pkg/client"
)

var (
	blockColor     = color.New(color.FgRed, color.Bold)
	challengeColor = color.New(color.FgYellow)
	allowColor     = color.New(color.FgGreen)
)

// colorAction highlights a decision action.
func colorAction(action string) string {
	switch action {
	case "block":
		return blockColor.Sprint(action)
	case "challenge":
		return challengeColor.Sprint(action)
	case "allow", "":
		return allowColor.Sprint("allow")
	default:
		return action
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultFromVerdict converts an in-process verdict to the wire shape the
// sentinel returns, so both modes print identically.
func resultFromVerdict(v *defense.Verdict) *client.InspectResult {
	out := &client.InspectResult{
		Detection: client.Detection{
			IsAttack:   v.Detection.IsAttack,
			Category:   v.Detection.Category.String(),
			Confidence: v.Detection.Confidence,
			Evidence:   v.Detection.Evidence,
		},
		AttackLogID: v.AttackLogID,
	}
	if a := v.Analysis; a != nil {
		out.Analysis = &client.Analysis{
			ThreatScore:  a.ThreatScore,
			ShouldBlock:  a.ShouldBlock,
			Action:       string(a.Action),
			Reason:       a.Reason,
			Confidence:   a.Confidence,
			ModelVersion: a.ModelVersion,
			Fallback:     a.Fallback,
		}
	}
	return out
}

func printInspect(w io.Writer, r *client.InspectResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ATTACK\t%t\n", r.Detection.IsAttack)
	fmt.Fprintf(tw, "CATEGORY\t%s\n", r.Detection.Category)
	fmt.Fprintf(tw, "CONFIDENCE\t%.2f\n", r.Detection.Confidence)
	for _, e := range r.Detection.Evidence {
		fmt.Fprintf(tw, "EVIDENCE\t%s\n", e)
	}
	if r.Analysis != nil {
		printAnalysisRows(tw, r.Analysis)
	}
	if r.AttackLogID != "" {
		fmt.Fprintf(tw, "ATTACK LOG\t%s\n", r.AttackLogID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if r.Analysis == nil {
		fmt.Fprintf(w, "ACTION      %s\n", colorAction("allow"))
	}
	return nil
}

func printAnalysis(w io.Writer, a *client.Analysis) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printAnalysisRows(tw, a)
	return tw.Flush()
}

func printAnalysisRows(tw *tabwriter.Writer, a *client.Analysis) {
	fmt.Fprintf(tw, "THREAT SCORE\t%.3f\n", a.ThreatScore)
	fmt.Fprintf(tw, "ACTION\t%s\n", colorAction(a.Action))
	fmt.Fprintf(tw, "REASON\t%s\n", a.Reason)
	model := a.ModelVersion
	if a.Fallback {
		model += " (fallback)"
	}
	fmt.Fprintf(tw, "MODEL\t%s\n", model)
}

func printDetections(w io.Writer, records []client.DetectionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCATEGORY\tSCORE\tMETHOD\tPATH\tSOURCE IP\tACTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.AttackType, r.ThreatScore, r.Method, shorten(r.Path, 48), r.SourceIP,
			colorAction(r.Action),
		)
	}
	return tw.Flush()
}

func printAttack(w io.Writer, rep *client.AttackReport) error {
	fmt.Fprintf(w, "%s against %s: %d sent\n", rep.AttackType, rep.Target, rep.AttacksSent)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tTIME\tPAYLOAD\tOUTCOME")
	for i, a := range rep.Results {
		outcome := allowColor.Sprint("passed")
		switch {
		case a.Error != "":
			outcome = challengeColor.Sprint("error: " + a.Error)
		case a.Blocked:
			outcome = blockColor.Sprint("blocked")
		}
		fmt.Fprintf(tw, "%d\t%d\t%dms\t%s\t%s\n",
			i+1, a.Status, a.ResponseTimeMs, shorten(a.PayloadPreview, 40), outcome)
	}
	return tw.Flush()
}

// shorten truncates s to n runes with a trailing ellipsis and flattens
// control characters so table rows stay on one line.
func shorten(s string, n int) string {
	s = strings.NewReplacer("\r", `\r`, "\n", `\n`, "\t", " ").Replace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
