package export

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/warp/casework/report"
)

var (
	accentColor = lipgloss.Color("#4ECDC4")
	subtleColor = lipgloss.Color("#666666")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(subtleColor).MarginTop(1)
)

// Terminal prints a bordered table for the CLI.
type Terminal struct{}

func (Terminal) ContentType() string { return "text/plain; charset=utf-8" }
func (Terminal) Extension() string   { return ".txt" }

func (Terminal) Format(_ context.Context, w io.Writer, t *report.Table) error {
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(subtleColor)).
		Headers(t.Headers...).
		Rows(textRows(t)...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n",
		titleStyle.Render(t.Title),
		tbl.Render(),
		footerStyle.Render(footer(t)))
	return err
}
