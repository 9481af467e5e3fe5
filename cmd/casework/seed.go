package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/warp/casework/seed"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2ECC71"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

func seedCmd() *cobra.Command {
	var (
		file  string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load fixture data",
		Long: `Load users, categories, programs, beneficiaries, cases, notes, assessments
and report templates from a YAML file. Without --file the built-in demo data
is loaded. Records that already exist are skipped, so seeding twice is safe.
New assessments run through the eligibility engine as they are loaded.`,
		Example: `  casework seed
  casework seed --file fixtures/kigali.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fixtures, err := loadFixtures(file)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			loader := seed.NewLoader(a.store, a.logger.Named("seed"))
			if !quiet {
				loader.Progress = cmd.ErrOrStderr()
			}
			sum, err := loader.Load(cmd.Context(), fixtures)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file (default: built-in demo data)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func loadFixtures(file string) (*seed.Fixtures, error) {
	if file == "" {
		return seed.Demo()
	}
	return seed.ParseFile(file)
}

func printSummary(w io.Writer, sum *seed.Summary) error {
	kinds := make(map[string]struct{})
	for k := range sum.Created {
		kinds[k] = struct{}{}
	}
	for k := range sum.Skipped {
		kinds[k] = struct{}{}
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([][]string, len(names))
	for i, k := range names {
		rows[i] = []string{k, strconv.Itoa(sum.Created[k]), strconv.Itoa(sum.Skipped[k])}
	}
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(subtleStyle).
		Headers("Kind", "Created", "Skipped").
		Rows(rows...)

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n",
		successStyle.Render("Seed complete"),
		tbl.Render(),
		subtleStyle.Render(fmt.Sprintf("%d promotion(s) applied", sum.Promotions)))
	return err
}
