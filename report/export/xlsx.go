package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/casework/report"
)

const xlsxSheet = "Report"

// XLSX writes a single-sheet workbook. Layout, from row 1:
//
//	title
//	footer
//	(blank)
//	headers (bold, frozen)
//	rows
type XLSX struct{}

func (XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSX) Extension() string { return ".xlsx" }

func (XLSX) Format(_ context.Context, w io.Writer, t *report.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return fmt.Errorf("title style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("money style: %w", err)
	}
	dates, err := f.NewStyle(&excelize.Style{NumFmt: 14}) // m/d/yy, localised by Excel
	if err != nil {
		return fmt.Errorf("date style: %w", err)
	}

	if err := f.SetCellValue(xlsxSheet, "A1", t.Title); err != nil {
		return err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", "A1", titleStyle); err != nil {
		return err
	}
	if err := f.SetCellValue(xlsxSheet, "A2", footer(t)); err != nil {
		return err
	}

	const headerRow = 4
	for col, h := range t.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(xlsxSheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(xlsxSheet, cell, cell, bold); err != nil {
			return err
		}
	}

	for i, row := range t.Rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, headerRow+1+i)
			if err != nil {
				return err
			}
			value, style := xlsxValue(v, money, dates)
			if err := f.SetCellValue(xlsxSheet, cell, value); err != nil {
				return fmt.Errorf("set %s: %w", cell, err)
			}
			if style != 0 {
				if err := f.SetCellStyle(xlsxSheet, cell, cell, style); err != nil {
					return err
				}
			}
		}
	}

	if n := len(t.Headers); n > 0 {
		last, err := excelize.ColumnNumberToName(n)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(xlsxSheet, "A", last, 22); err != nil {
			return err
		}
	}
	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      headerRow,
		TopLeftCell: fmt.Sprintf("A%d", headerRow+1),
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// xlsxValue keeps numbers and dates native so the sheet can compute on them.
func xlsxValue(v any, money, dates int) (any, int) {
	switch x := v.(type) {
	case nil:
		return "", 0
	case decimal.Decimal:
		return x.InexactFloat64(), money
	case report.Date:
		return x.Time, dates
	case time.Time:
		return CellText(x), 0
	}
	return v, 0
}
