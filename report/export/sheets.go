package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/warp/casework/report"
)

// SheetsConfig points at an existing spreadsheet shared with a service
// account.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetID   string
	// Range is where the report starts. Defaults to "A1" on the first sheet.
	Range string
}

func (c SheetsConfig) Validate() error {
	if c.CredentialsFile == "" {
		return errors.New("sheets: credentials file is required")
	}
	if c.SpreadsheetID == "" {
		return errors.New("sheets: spreadsheet id is required")
	}
	return nil
}

// valuesAPI is the slice of the Sheets API the formatter uses.
type valuesAPI interface {
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error
}

type sheetsValues struct {
	svc *sheets.Service
}

func (s sheetsValues) Clear(ctx context.Context, id, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(id, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (s sheetsValues) Update(ctx context.Context, id, rng string, values [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Update(id, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

// Sheets replaces the contents of a Google Sheet with the report and
// writes the sheet URL to w.
type Sheets struct {
	api    valuesAPI
	config SheetsConfig
}

// NewSheets authenticates with a service account key file.
func NewSheets(ctx context.Context, config SheetsConfig) (*Sheets, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	key, err := os.ReadFile(config.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	jwtConfig, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	client := oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx))
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sheets{api: sheetsValues{svc: svc}, config: config}, nil
}

func (*Sheets) ContentType() string { return "text/plain; charset=utf-8" }
func (*Sheets) Extension() string   { return ".txt" }

func (s *Sheets) Format(ctx context.Context, w io.Writer, t *report.Table) error {
	start := s.config.Range
	if start == "" {
		start = "A1"
	}

	if err := s.api.Clear(ctx, s.config.SpreadsheetID, "A:ZZ"); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}
	if err := s.api.Update(ctx, s.config.SpreadsheetID, start, sheetValues(t)); err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}

	_, err := fmt.Fprintf(w, "https://docs.google.com/spreadsheets/d/%s\n", s.config.SpreadsheetID)
	return err
}

// sheetValues lays the table out as title, footer, blank, headers, rows.
// Cells are sent as display text; USER_ENTERED lets Sheets parse numbers
// and dates back out.
func sheetValues(t *report.Table) [][]any {
	values := make([][]any, 0, len(t.Rows)+4)
	values = append(values, []any{t.Title}, []any{footer(t)}, []any{})

	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	values = append(values, header)

	for _, row := range textRows(t) {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		values = append(values, cells)
	}
	return values
}
