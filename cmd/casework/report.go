package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/casework/report"
	"github.com/warp/casework/report/export"
	"github.com/warp/casework/welfare"
)

func reportCmd() *cobra.Command {
	var (
		as       string
		entity   string
		template string
		title    string
		fields   []string
		filters  []string
		format   string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report as a user",
		Long: `Generate a report with the same role scoping the API applies. The acting
user is looked up by username; their role decides which records they see.

Formats: ` + strings.Join(export.Formats, ", ") + `.
The sheets format writes to the configured spreadsheet and prints a summary.`,
		Example: `  casework report --as manager1 --entity case
  casework report --as admin --template tpl-open-cases --format xlsx --out open.xlsx
  casework report --as me1 --entity assessment --fields title,case__beneficiary__name,amount_received --filter year=2024`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entity == "" && template == "" {
				return fmt.Errorf("one of --entity or --template is required")
			}
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			user, err := a.store.FindUserByUsername(ctx, as)
			if err != nil {
				return fmt.Errorf("user %q: %w", as, err)
			}
			principal := welfare.Principal{UserID: user.ID, Role: user.Role}

			req := report.Request{Entity: report.Entity(entity), Title: title, Fields: fields, Filters: parsed}
			if template != "" {
				tpl, err := a.store.GetTemplate(ctx, welfare.TemplateID(template))
				if err != nil {
					return fmt.Errorf("template %q: %w", template, err)
				}
				fromTpl, err := report.RequestFromTemplate(*tpl)
				if err != nil {
					return err
				}
				if len(fields) > 0 {
					fromTpl.Fields = fields
				}
				if len(parsed) > 0 {
					fromTpl.Filters = parsed
				}
				if title != "" {
					fromTpl.Title = title
				}
				req = fromTpl
			}

			formatter, err := export.New(ctx, format, a.exportOptions())
			if err != nil {
				return err
			}
			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			tbl, err := pipeline.Generate(ctx, principal, req)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := formatter.Format(ctx, w, tbl); err != nil {
				return fmt.Errorf("render %s: %w", format, err)
			}

			entry := tbl.Entry(welfare.ReportID(uuid.NewString()), principal.UserID, req.Filters, format)
			if err := a.store.SaveReport(ctx, entry); err != nil {
				a.logger.Warn("report log write failed", zap.String("report_id", string(entry.ID)), zap.Error(err))
			}
			if out != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), subtleStyle.Render(fmt.Sprintf("%d row(s) written to %s", len(tbl.Rows), out)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "username of the acting user (required)")
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "entity to report on")
	cmd.Flags().StringVarP(&template, "template", "t", "", "report template id")
	cmd.Flags().StringVar(&title, "title", "", "report title (default: the entity or template name)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "comma-separated field paths (default: the entity's defaults)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "key=value filter; repeat for more")
	cmd.Flags().StringVar(&format, "format", export.FormatTable, "output format")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func parseFilters(raw []string) (report.Filters, error) {
	out := report.Filters{}
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("filter %q: want key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
