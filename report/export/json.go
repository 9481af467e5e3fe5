package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/warp/casework/report"
)

// JSON writes the table as one object. Cells keep their native form:
// decimals as strings, times as RFC 3339, dates as YYYY-MM-DD.
type JSON struct{}

type jsonTable struct {
	Title       string       `json:"title"`
	Entity      string       `json:"entity"`
	Fields      []string     `json:"fields"`
	Headers     []string     `json:"headers"`
	Rows        []report.Row `json:"rows"`
	RowCount    int          `json:"row_count"`
	GeneratedBy string       `json:"generated_by"`
	GeneratedAt time.Time    `json:"generated_at"`
}

func (JSON) ContentType() string { return "application/json" }
func (JSON) Extension() string   { return ".json" }

func (JSON) Format(_ context.Context, w io.Writer, t *report.Table) error {
	rows := t.Rows
	if rows == nil {
		rows = []report.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonTable{
		Title:       t.Title,
		Entity:      string(t.Entity),
		Fields:      t.Fields,
		Headers:     t.Headers,
		Rows:        rows,
		RowCount:    t.RowCount,
		GeneratedBy: t.GeneratedBy,
		GeneratedAt: t.GeneratedAt,
	}); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}
