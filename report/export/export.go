/*
Package export renders report tables.

PURPOSE:
  The pipeline produces raw cells: strings, ints, decimals, times, dates
  and nils. Formatters decide how they look. Every formatter writes the same
  four things: title, headers, rows and a footer naming the row count, who
  generated the report and when.

FORMATS:
  csv     text/csv, one header row
  json    the table as an object, cells in native JSON form
  xlsx    one sheet, bold header row, frozen pane
  pdf     landscape A4, repeated header row on every page
  table   lipgloss-bordered terminal table
  sheets  pushes values to a Google Sheet, writes its URL

SEE ALSO:
  - report/pipeline.go: Table
*/
package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/casework/report"
	"github.com/warp/casework/welfare"
)

// Formatter renders one table to w.
type Formatter interface {
	Format(ctx context.Context, w io.Writer, t *report.Table) error
	ContentType() string
	Extension() string
}

const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatXLSX   = "xlsx"
	FormatPDF    = "pdf"
	FormatTable  = "table"
	FormatSheets = "sheets"
)

// Formats lists every supported format name.
var Formats = []string{FormatCSV, FormatJSON, FormatXLSX, FormatPDF, FormatTable, FormatSheets}

// Options carries what some formatters need beyond the table.
type Options struct {
	// Sheets is required for the sheets format.
	Sheets SheetsConfig
}

// New returns the formatter for a format name.
func New(ctx context.Context, format string, opts Options) (Formatter, error) {
	switch format {
	case FormatCSV:
		return CSV{}, nil
	case FormatJSON:
		return JSON{}, nil
	case FormatXLSX:
		return XLSX{}, nil
	case FormatPDF:
		return PDF{}, nil
	case FormatTable:
		return Terminal{}, nil
	case FormatSheets:
		s, err := NewSheets(ctx, opts.Sheets)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownFormat, format)
}

// =============================================================================
// CELL FORMATTING
// =============================================================================

const (
	dateLayout     = time.DateOnly
	dateTimeLayout = "2006-01-02 15:04"
)

// CellText is the display form of a cell shared by the text formats.
func CellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.StringFixed(2)
	case report.Date:
		return x.Format(dateLayout)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(dateTimeLayout)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// footer is the provenance line under every rendered table.
func footer(t *report.Table) string {
	return fmt.Sprintf("%d rows. Generated by %s on %s",
		t.RowCount, t.GeneratedBy, t.GeneratedAt.Format(dateTimeLayout))
}

func textRows(t *report.Table) [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = CellText(v)
		}
		out[i] = cells
	}
	return out
}
