/*
store.go - Persistence interfaces for the casework domain

PURPOSE:
  Defines the boundary between domain logic and the database. The
  eligibility engine only needs Reader: lookups by ID, an ordered category
  query with comparison bounds, and a sum over assessment amounts. The
  recorder needs Store for writes and TxStore for all-or-nothing
  assessment + promotion writes.

KEY INTERFACES:
  Reader:  Point lookups, ordered category query, amount aggregation
  Store:   Reader + upserts + placement updates
  TxStore: Store + WithTx

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error the
  whole unit rolls back: an assessment is never left persisted with a stale
  category or program.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - welfare/store/memory.go: In-memory for tests and dry runs

SEE ALSO:
  - eligibility/engine.go: Uses Reader
  - eligibility/recorder.go: Uses TxStore
*/
package welfare

import (
	"context"

	"github.com/shopspring/decimal"
)

// CategoryFilter bounds a category query by ceiling. Nil bounds are ignored.
type CategoryFilter struct {
	// AtLeast keeps categories with MaxAnnualAmount >= *AtLeast.
	AtLeast *decimal.Decimal
	// Above keeps categories with MaxAnnualAmount > *Above.
	Above *decimal.Decimal
}

// Matches reports whether c satisfies both bounds.
func (f CategoryFilter) Matches(c Category) bool {
	if f.AtLeast != nil && c.MaxAnnualAmount.LessThan(*f.AtLeast) {
		return false
	}
	if f.Above != nil && !c.MaxAnnualAmount.GreaterThan(*f.Above) {
		return false
	}
	return true
}

// PlacementUpdate changes a beneficiary's category and/or program.
// Nil fields are left untouched.
type PlacementUpdate struct {
	CategoryID *CategoryID
	ProgramID  *ProgramID
}

// IsEmpty is true when nothing would change.
func (p PlacementUpdate) IsEmpty() bool {
	return p.CategoryID == nil && p.ProgramID == nil
}

// =============================================================================
// READER - What the eligibility engine depends on
// =============================================================================

// Reader returns ErrXxxNotFound sentinels for missing records, never nil, nil.
type Reader interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)
	GetBeneficiary(ctx context.Context, id BeneficiaryID) (*Beneficiary, error)
	GetCase(ctx context.Context, id CaseID) (*Case, error)
	GetAssessment(ctx context.Context, id AssessmentID) (*Assessment, error)
	GetTemplate(ctx context.Context, id TemplateID) (*ReportTemplate, error)

	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindCategoryByName(ctx context.Context, name string) (*Category, error)
	FindProgramByName(ctx context.Context, name string) (*Program, error)

	// ListCategories returns matching categories ordered by MaxAnnualAmount
	// ascending, ties broken by ID.
	ListCategories(ctx context.Context, filter CategoryFilter) ([]Category, error)

	// ListPrograms returns every program ordered by name.
	ListPrograms(ctx context.Context) ([]Program, error)

	// SumAmountReceived totals AmountReceived over every assessment of every
	// case of the beneficiary. Zero when there is no history.
	SumAmountReceived(ctx context.Context, id BeneficiaryID) (decimal.Decimal, error)

	ListTemplates(ctx context.Context) ([]ReportTemplate, error)

	// ListReports returns the report log, newest first. A nil generatedBy
	// returns every entry.
	ListReports(ctx context.Context, generatedBy *UserID) ([]Report, error)
}

// =============================================================================
// STORE - Writes
// =============================================================================

// Store adds upserts. Save methods insert or replace by ID.
type Store interface {
	Reader

	SaveUser(ctx context.Context, u User) error
	SaveCategory(ctx context.Context, c Category) error
	SaveProgram(ctx context.Context, p Program) error
	SaveBeneficiary(ctx context.Context, b Beneficiary) error
	SaveCase(ctx context.Context, c Case) error
	SaveCaseNote(ctx context.Context, n CaseNote) error
	SaveAssessment(ctx context.Context, a Assessment) error
	SaveTemplate(ctx context.Context, t ReportTemplate) error
	SaveReport(ctx context.Context, r Report) error

	// UpdatePlacement writes the beneficiary's category and/or program.
	UpdatePlacement(ctx context.Context, id BeneficiaryID, p PlacementUpdate) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
