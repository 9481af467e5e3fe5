/*
Package sqlite provides a SQLite-backed implementation of welfare.TxStore
and a gorm-backed report.Source over the same connection.

PURPOSE:
  Persists users, categories, programs, beneficiaries, cases, case notes,
  assessments, report templates and the generated-report log. The write
  path (assessments and promotions) uses database/sql directly; report
  reads go through gorm for filtering and preloading references.

KEY TABLES:
  categories:    Monetary ceilings (max_annual_amount as decimal TEXT)
  programs:      Disbursement tracks; next_program_id forms the chain
  beneficiaries: Current category_id / program_id placement
  cases:         Beneficiary <-> case manager
  assessments:   amount_received / income_amount per case
  reports:       Log of generated reports

MONEY:
  Decimals are stored as TEXT and summed in Go with shopspring/decimal.
  SQLite's numeric affinity would round them through float64.

TIMES:
  Stored as RFC 3339 UTC text in DATETIME-declared columns. The driver
  hands DATETIME columns back as time.Time.

CONNECTIONS:
  The pool is held to a single connection. An in-memory database lives
  only as long as its connection, and SQLite allows one writer anyway.
  Everything inside WithTx runs on the *sql.Tx, never on the pool, so a
  transaction never waits on itself.

USAGE:
  store, err := sqlite.New("./data/casework.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  recorder := eligibility.NewRecorder(store, notifier, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - welfare/store.go: Interface definitions
  - report_source.go: report.Source
  - welfare/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/casework/welfare"
)

// Store implements welfare.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for the report source.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx executes fn within a database transaction. fn's error rolls
// everything back.
func (s *Store) WithTx(ctx context.Context, fn func(store welfare.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		max_annual_amount TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- Successors are checked at commit so a chain can be loaded in any order.
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		monthly_amount TEXT NOT NULL,
		next_program_id TEXT REFERENCES programs(id) ON DELETE SET NULL DEFERRABLE INITIALLY DEFERRED,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		date_of_birth DATETIME,
		gender TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
		program_id TEXT REFERENCES programs(id) ON DELETE SET NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		beneficiary_id TEXT NOT NULL REFERENCES beneficiaries(id) ON DELETE CASCADE,
		case_manager_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_beneficiary ON cases(beneficiary_id);
	CREATE INDEX IF NOT EXISTS idx_cases_manager ON cases(case_manager_id);

	CREATE TABLE IF NOT EXISTS case_notes (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		created_by_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_case_notes_author ON case_notes(created_by_id);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		created_by_id TEXT NOT NULL REFERENCES users(id),
		amount_received TEXT NOT NULL,
		income_amount TEXT NOT NULL,
		year INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Hot path: total_amount_received joins cases -> assessments.
	CREATE INDEX IF NOT EXISTS idx_assessments_case ON assessments(case_id);
	CREATE INDEX IF NOT EXISTS idx_assessments_author ON assessments(created_by_id);

	CREATE TABLE IF NOT EXISTS report_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		filters_json TEXT NOT NULL,
		created_by_id TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		template_id TEXT REFERENCES report_templates(id) ON DELETE SET NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		filters_json TEXT NOT NULL,
		format TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		generated_by_id TEXT NOT NULL REFERENCES users(id),
		generated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_generated_by ON reports(generated_by_id, generated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIES - Shared by the pool and transactions
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

const userColumns = "id, username, email, role, created_at"

func (s queries) SaveUser(ctx context.Context, u welfare.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			role = excluded.role
	`, u.ID, u.Username, u.Email, u.Role, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s queries) GetUser(ctx context.Context, id welfare.UserID) (*welfare.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s queries) FindUserByUsername(ctx context.Context, username string) (*welfare.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s queries) getUser(ctx context.Context, where string, arg any) (*welfare.User, error) {
	var u welfare.User
	err := s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// -----------------------------------------------------------------------------
// Categories
// -----------------------------------------------------------------------------

const categoryColumns = "id, name, description, max_annual_amount, created_at"

func (s queries) SaveCategory(ctx context.Context, c welfare.Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			max_annual_amount = excluded.max_annual_amount
	`, c.ID, c.Name, c.Description, c.MaxAnnualAmount.String(), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save category %s: %w", c.ID, err)
	}
	return nil
}

func (s queries) GetCategory(ctx context.Context, id welfare.CategoryID) (*welfare.Category, error) {
	return s.getCategory(ctx, "id = ?", id)
}

func (s queries) FindCategoryByName(ctx context.Context, name string) (*welfare.Category, error) {
	return s.getCategory(ctx, "name = ?", name)
}

func (s queries) getCategory(ctx context.Context, where string, arg any) (*welfare.Category, error) {
	c, err := scanCategory(s.q.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns categories matching f by ascending ceiling. The
// bounds are applied in Go on exact decimals.
func (s queries) ListCategories(ctx context.Context, f welfare.CategoryFilter) ([]welfare.Category, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+categoryColumns+" FROM categories")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []welfare.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].MaxAnnualAmount.Cmp(out[j].MaxAnnualAmount); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(row scanner) (welfare.Category, error) {
	var c welfare.Category
	var amount string
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &amount, &c.CreatedAt); err != nil {
		return c, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return c, fmt.Errorf("category %s: bad max_annual_amount %q: %w", c.ID, amount, err)
	}
	c.MaxAnnualAmount = d
	return c, nil
}

// -----------------------------------------------------------------------------
// Programs
// -----------------------------------------------------------------------------

const programColumns = "id, name, description, monthly_amount, next_program_id, created_at"

func (s queries) SaveProgram(ctx context.Context, p welfare.Program) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO programs (`+programColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			monthly_amount = excluded.monthly_amount,
			next_program_id = excluded.next_program_id
	`, p.ID, p.Name, p.Description, p.MonthlyAmount.String(), nullID(p.NextProgramID), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("save program %s: %w", p.ID, err)
	}
	return nil
}

func (s queries) GetProgram(ctx context.Context, id welfare.ProgramID) (*welfare.Program, error) {
	return s.getProgram(ctx, "id = ?", id)
}

func (s queries) FindProgramByName(ctx context.Context, name string) (*welfare.Program, error) {
	return s.getProgram(ctx, "name = ?", name)
}

func (s queries) getProgram(ctx context.Context, where string, arg any) (*welfare.Program, error) {
	p, err := scanProgram(s.q.QueryRowContext(ctx, "SELECT "+programColumns+" FROM programs WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	return &p, nil
}

func (s queries) ListPrograms(ctx context.Context) ([]welfare.Program, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+programColumns+" FROM programs ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []welfare.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProgram(row scanner) (welfare.Program, error) {
	var p welfare.Program
	var amount string
	var next sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &amount, &next, &p.CreatedAt); err != nil {
		return p, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return p, fmt.Errorf("program %s: bad monthly_amount %q: %w", p.ID, amount, err)
	}
	p.MonthlyAmount = d
	if next.Valid {
		id := welfare.ProgramID(next.String)
		p.NextProgramID = &id
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Beneficiaries
// -----------------------------------------------------------------------------

const beneficiaryColumns = "id, name, date_of_birth, gender, address, category_id, program_id, created_at, updated_at"

func (s queries) SaveBeneficiary(ctx context.Context, b welfare.Beneficiary) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO beneficiaries (`+beneficiaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			date_of_birth = excluded.date_of_birth,
			gender = excluded.gender,
			address = excluded.address,
			category_id = excluded.category_id,
			program_id = excluded.program_id,
			updated_at = excluded.updated_at
	`, b.ID, b.Name, nullTime(b.DateOfBirth), b.Gender, b.Address,
		nullID(b.CategoryID), nullID(b.ProgramID),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save beneficiary %s: %w", b.ID, err)
	}
	return nil
}

func (s queries) GetBeneficiary(ctx context.Context, id welfare.BeneficiaryID) (*welfare.Beneficiary, error) {
	var b welfare.Beneficiary
	var dob sql.NullTime
	var category, program sql.NullString
	err := s.q.QueryRowContext(ctx, "SELECT "+beneficiaryColumns+" FROM beneficiaries WHERE id = ?", id).
		Scan(&b.ID, &b.Name, &dob, &b.Gender, &b.Address, &category, &program, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get beneficiary: %w", err)
	}
	if dob.Valid {
		b.DateOfBirth = dob.Time
	}
	if category.Valid {
		id := welfare.CategoryID(category.String)
		b.CategoryID = &id
	}
	if program.Valid {
		id := welfare.ProgramID(program.String)
		b.ProgramID = &id
	}
	return &b, nil
}

// UpdatePlacement writes only the non-nil fields of p.
func (s queries) UpdatePlacement(ctx context.Context, id welfare.BeneficiaryID, p welfare.PlacementUpdate) error {
	if p.IsEmpty() {
		return nil
	}
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}
	if p.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *p.CategoryID)
	}
	if p.ProgramID != nil {
		sets = append(sets, "program_id = ?")
		args = append(args, *p.ProgramID)
	}
	args = append(args, id)

	res, err := s.q.ExecContext(ctx, "UPDATE beneficiaries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update placement of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return welfare.ErrBeneficiaryNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Cases and notes
// -----------------------------------------------------------------------------

const caseColumns = "id, title, beneficiary_id, case_manager_id, status, description, opened_at, closed_at, created_at"

func (s queries) SaveCase(ctx context.Context, c welfare.Case) error {
	var closed any
	if c.ClosedAt != nil {
		closed = formatTime(*c.ClosedAt)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			case_manager_id = excluded.case_manager_id,
			status = excluded.status,
			description = excluded.description,
			closed_at = excluded.closed_at
	`, c.ID, c.Title, c.BeneficiaryID, c.CaseManagerID, c.Status, c.Description,
		formatTime(c.OpenedAt), closed, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save case %s: %w", c.ID, err)
	}
	return nil
}

func (s queries) GetCase(ctx context.Context, id welfare.CaseID) (*welfare.Case, error) {
	var c welfare.Case
	var closed sql.NullTime
	err := s.q.QueryRowContext(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = ?", id).
		Scan(&c.ID, &c.Title, &c.BeneficiaryID, &c.CaseManagerID, &c.Status, &c.Description,
			&c.OpenedAt, &closed, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	if closed.Valid {
		t := closed.Time
		c.ClosedAt = &t
	}
	return &c, nil
}

func (s queries) SaveCaseNote(ctx context.Context, n welfare.CaseNote) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO case_notes (id, case_id, created_by_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`, n.ID, n.CaseID, n.CreatedByID, n.Content, formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("save case note %s: %w", n.ID, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Assessments
// -----------------------------------------------------------------------------

const assessmentColumns = "id, title, description, case_id, created_by_id, amount_received, income_amount, year, created_at, updated_at"

// SaveAssessment upserts. The case and author of an existing assessment are
// never changed.
func (s queries) SaveAssessment(ctx context.Context, a welfare.Assessment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assessments (`+assessmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			amount_received = excluded.amount_received,
			income_amount = excluded.income_amount,
			year = excluded.year,
			updated_at = excluded.updated_at
	`, a.ID, a.Title, a.Description, a.CaseID, a.CreatedByID,
		a.AmountReceived.String(), a.IncomeAmount.String(), a.Year,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save assessment %s: %w", a.ID, err)
	}
	return nil
}

func (s queries) GetAssessment(ctx context.Context, id welfare.AssessmentID) (*welfare.Assessment, error) {
	var a welfare.Assessment
	var received, income string
	err := s.q.QueryRowContext(ctx, "SELECT "+assessmentColumns+" FROM assessments WHERE id = ?", id).
		Scan(&a.ID, &a.Title, &a.Description, &a.CaseID, &a.CreatedByID,
			&received, &income, &a.Year, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if a.AmountReceived, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("assessment %s: bad amount_received %q: %w", id, received, err)
	}
	if a.IncomeAmount, err = decimal.NewFromString(income); err != nil {
		return nil, fmt.Errorf("assessment %s: bad income_amount %q: %w", id, income, err)
	}
	return &a, nil
}

// SumAmountReceived totals amount_received over every case the beneficiary
// has had. Zero when there are none.
func (s queries) SumAmountReceived(ctx context.Context, id welfare.BeneficiaryID) (decimal.Decimal, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.amount_received
		FROM assessments a
		JOIN cases c ON c.id = a.case_id
		WHERE c.beneficiary_id = ?
	`, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amount received: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad amount_received %q: %w", v, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// -----------------------------------------------------------------------------
// Report templates and log
// -----------------------------------------------------------------------------

const templateColumns = "id, name, entity_type, fields_json, filters_json, created_by_id, created_at"

func (s queries) SaveTemplate(ctx context.Context, t welfare.ReportTemplate) error {
	fields, filters, err := encodeProjection(t.Fields, t.Filters)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO report_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			entity_type = excluded.entity_type,
			fields_json = excluded.fields_json,
			filters_json = excluded.filters_json
	`, t.ID, t.Name, t.EntityType, fields, filters, t.CreatedByID, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

func (s queries) GetTemplate(ctx context.Context, id welfare.TemplateID) (*welfare.ReportTemplate, error) {
	t, err := scanTemplate(s.q.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM report_templates WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, welfare.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (s queries) ListTemplates(ctx context.Context) ([]welfare.ReportTemplate, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+templateColumns+" FROM report_templates ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []welfare.ReportTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row scanner) (welfare.ReportTemplate, error) {
	var t welfare.ReportTemplate
	var fields, filters string
	if err := row.Scan(&t.ID, &t.Name, &t.EntityType, &fields, &filters, &t.CreatedByID, &t.CreatedAt); err != nil {
		return t, err
	}
	if err := decodeProjection(fields, filters, &t.Fields, &t.Filters); err != nil {
		return t, fmt.Errorf("template %s: %w", t.ID, err)
	}
	return t, nil
}

const reportColumns = "id, template_id, name, entity_type, fields_json, filters_json, format, row_count, generated_by_id, generated_at"

func (s queries) SaveReport(ctx context.Context, r welfare.Report) error {
	fields, filters, err := encodeProjection(r.Fields, r.Filters)
	if err != nil {
		return err
	}
	var template any
	if r.TemplateID != nil {
		template = string(*r.TemplateID)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, template, r.Name, r.EntityType, fields, filters, r.Format, r.RowCount,
		r.GeneratedByID, formatTime(r.GeneratedAt))
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// ListReports returns the report log newest first, optionally for one user.
func (s queries) ListReports(ctx context.Context, generatedBy *welfare.UserID) ([]welfare.Report, error) {
	query := "SELECT " + reportColumns + " FROM reports"
	var args []any
	if generatedBy != nil {
		query += " WHERE generated_by_id = ?"
		args = append(args, *generatedBy)
	}
	query += " ORDER BY generated_at DESC, id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []welfare.Report
	for rows.Next() {
		var r welfare.Report
		var template sql.NullString
		var fields, filters string
		if err := rows.Scan(&r.ID, &template, &r.Name, &r.EntityType, &fields, &filters,
			&r.Format, &r.RowCount, &r.GeneratedByID, &r.GeneratedAt); err != nil {
			return nil, err
		}
		if template.Valid {
			id := welfare.TemplateID(template.String)
			r.TemplateID = &id
		}
		if err := decodeProjection(fields, filters, &r.Fields, &r.Filters); err != nil {
			return nil, fmt.Errorf("report %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// nullID turns a nil typed ID pointer into SQL NULL.
func nullID[T ~string](id *T) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func encodeProjection(fields []string, filters map[string]string) (string, string, error) {
	if fields == nil {
		fields = []string{}
	}
	if filters == nil {
		filters = map[string]string{}
	}
	f, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("encode fields: %w", err)
	}
	m, err := json.Marshal(filters)
	if err != nil {
		return "", "", fmt.Errorf("encode filters: %w", err)
	}
	return string(f), string(m), nil
}

func decodeProjection(fields, filters string, outFields *[]string, outFilters *map[string]string) error {
	if err := json.Unmarshal([]byte(fields), outFields); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal([]byte(filters), outFilters); err != nil {
		return fmt.Errorf("decode filters: %w", err)
	}
	return nil
}

// ensureDir creates the parent directory of a database file.
func ensureDir(dbPath string) error {
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dbPath, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
