package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/welfare"
)

var (
	promoteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F39C12")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Width(10)
)

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <assessment-id>",
		Short: "Dry-run eligibility for an assessment",
		Long: `Show what the eligibility engine would decide for a stored assessment
given the current state of its beneficiary. Nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rec := eligibility.NewRecorder(a.store, nil, a.logger.Named("eligibility"))
			outcome, err := rec.DryRun(cmd.Context(), welfare.AssessmentID(args[0]))
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
}

func printOutcome(w io.Writer, o eligibility.Outcome) {
	for _, d := range []eligibility.Decision{o.Category, o.Program} {
		line := d.Message()
		if d.Promotes() {
			line = promoteStyle.Render(line)
		} else {
			line = subtleStyle.Render(line)
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(string(d.Dimension)), line)
		if d.Dimension == eligibility.DimensionCategory && d.FromCategory != nil {
			fmt.Fprintf(w, "%s income %s, total received %s, ceiling %s\n",
				labelStyle.Render(""), d.Income, d.Total, d.FromCategory.MaxAnnualAmount)
		}
	}
}
