package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/casework/report"
	"github.com/warp/casework/welfare"
)

func sampleTable() *report.Table {
	dob := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	return &report.Table{
		Title:   "Beneficiaries",
		Entity:  report.EntityBeneficiary,
		Fields:  []string{"name", "date_of_birth", "category__max_annual_amount", "category__name"},
		Headers: []string{"Name", "Date Of Birth", "Category Max Annual Amount", "Category Name"},
		Rows: []report.Row{
			{"Amina", report.Date{Time: dob}, decimal.RequireFromString("750000"), "Category 2"},
			{"Juma", nil, nil, nil},
		},
		RowCount:    2,
		GeneratedBy: "casey",
		GeneratedAt: time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestCellText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{2025, "2025"},
		{int64(7), "7"},
		{decimal.RequireFromString("1200.5"), "1200.50"},
		{report.Date{Time: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)}, "2000-01-02"},
		{time.Date(2025, 1, 2, 15, 4, 0, 0, time.UTC), "2025-01-02 15:04"},
		{time.Time{}, ""},
		{welfare.CaseOpen, "open"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CellText(tt.in), "%#v", tt.in)
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV{}.Format(context.Background(), &buf, sampleTable()))

	want := "Name,Date Of Birth,Category Max Annual Amount,Category Name\n" +
		"Amina,1990-04-02,750000.00,Category 2\n" +
		"Juma,,,\n"
	assert.Equal(t, want, buf.String())
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Format(context.Background(), &buf, sampleTable()))

	var got struct {
		Title    string  `json:"title"`
		Rows     [][]any `json:"rows"`
		RowCount int     `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Beneficiaries", got.Title)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, []any{"Amina", "1990-04-02", "750000", "Category 2"}, got.Rows[0])
	assert.Equal(t, []any{"Juma", nil, nil, nil}, got.Rows[1])
}

func TestJSON_EmptyRowsIsArray(t *testing.T) {
	var buf bytes.Buffer
	tbl := sampleTable()
	tbl.Rows, tbl.RowCount = nil, 0
	require.NoError(t, JSON{}.Format(context.Background(), &buf, tbl))
	assert.Contains(t, buf.String(), `"rows": []`)
}

func TestXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XLSX{}.Format(context.Background(), &buf, sampleTable()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(xlsxSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Beneficiaries", title)

	header, err := f.GetCellValue(xlsxSheet, "D4")
	require.NoError(t, err)
	assert.Equal(t, "Category Name", header)

	name, err := f.GetCellValue(xlsxSheet, "A5")
	require.NoError(t, err)
	assert.Equal(t, "Amina", name)

	amount, err := f.GetCellValue(xlsxSheet, "C5", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "750000", amount)

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestPDF(t *testing.T) {
	var buf bytes.Buffer
	tbl := sampleTable()
	// Enough rows to force a second page.
	for i := 0; i < 60; i++ {
		tbl.Rows = append(tbl.Rows, report.Row{"Row", nil, nil, "A long category name that will not fit in its column at all"})
	}
	tbl.RowCount = len(tbl.Rows)

	require.NoError(t, PDF{}.Format(context.Background(), &buf, tbl))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Terminal{}.Format(context.Background(), &buf, sampleTable()))

	out := buf.String()
	for _, s := range []string{"Beneficiaries", "Date Of Birth", "Amina", "750000.00", "2 rows. Generated by casey"} {
		assert.Contains(t, out, s)
	}
}

type fakeValues struct {
	cleared []string
	updated [][]any
	rng     string
	err     error
}

func (f *fakeValues) Clear(_ context.Context, _, rng string) error {
	f.cleared = append(f.cleared, rng)
	return nil
}

func (f *fakeValues) Update(_ context.Context, _, rng string, values [][]any) error {
	f.rng, f.updated = rng, values
	return f.err
}

func TestSheets_ReplacesValues(t *testing.T) {
	api := &fakeValues{}
	s := &Sheets{api: api, config: SheetsConfig{SpreadsheetID: "sheet-1"}}

	var buf bytes.Buffer
	require.NoError(t, s.Format(context.Background(), &buf, sampleTable()))

	assert.Equal(t, []string{"A:ZZ"}, api.cleared)
	assert.Equal(t, "A1", api.rng)
	require.Len(t, api.updated, 6)
	assert.Equal(t, []any{"Beneficiaries"}, api.updated[0])
	assert.Equal(t, []any{"Name", "Date Of Birth", "Category Max Annual Amount", "Category Name"}, api.updated[3])
	assert.Equal(t, []any{"Amina", "1990-04-02", "750000.00", "Category 2"}, api.updated[4])
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1\n", buf.String())
}

func TestSheets_UpdateError(t *testing.T) {
	s := &Sheets{api: &fakeValues{err: errors.New("quota")}, config: SheetsConfig{SpreadsheetID: "x"}}
	err := s.Format(context.Background(), &bytes.Buffer{}, sampleTable())
	assert.ErrorContains(t, err, "write sheet")
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	for _, f := range []string{FormatCSV, FormatJSON, FormatXLSX, FormatPDF, FormatTable} {
		got, err := New(ctx, f, Options{})
		require.NoError(t, err, f)
		assert.NotEmpty(t, got.Extension())
	}

	_, err := New(ctx, "docx", Options{})
	assert.ErrorIs(t, err, welfare.ErrUnknownFormat)

	_, err = New(ctx, FormatSheets, Options{})
	assert.ErrorContains(t, err, "credentials file is required")
}
