package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/warp/casework/report"
)

// CSV writes a header row followed by one line per record. No title or
// footer, so the output loads cleanly into other tools.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv; charset=utf-8" }
func (CSV) Extension() string   { return ".csv" }

func (CSV) Format(_ context.Context, w io.Writer, t *report.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(textRows(t)); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}
