package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/casework/report"
	"github.com/warp/casework/welfare"
)

// ReportSource implements report.Source with gorm over the store's
// connection. Each entity is loaded with every reference the report schema
// can walk, so projections never issue their own queries.
type ReportSource struct {
	db *gorm.DB
}

// NewReportSource wraps an open connection. Slow and failed queries are
// logged through l.
func NewReportSource(conn *sql.DB, l *zap.Logger) (*ReportSource, error) {
	if l == nil {
		l = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logger.New(zap.NewStdLog(l.Named("gorm")), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open report source: %w", err)
	}
	return &ReportSource{db: db}, nil
}

// ReportSource is a convenience for NewReportSource(s.DB(), l).
func (s *Store) ReportSource(l *zap.Logger) (*ReportSource, error) {
	return NewReportSource(s.db, l)
}

func (s *ReportSource) where(ctx context.Context, conds []report.Condition) *gorm.DB {
	q := s.db.WithContext(ctx)
	for _, c := range conds {
		if len(c.Via) == 0 {
			q = q.Where(clause.Eq{Column: clause.Column{Name: c.Column}, Value: c.Value})
			continue
		}
		q = q.Where("? IN (?)", clause.Column{Name: c.Via[0].Column}, s.through(c))
	}
	return q
}

// through builds the id subquery for a condition reached over references,
// innermost table first:
//
//	category_id IN (SELECT id FROM categories WHERE name = ?)
func (s *ReportSource) through(c report.Condition) *gorm.DB {
	last := len(c.Via) - 1
	sub := s.db.Table(c.Via[last].Table).Select("id").
		Where(clause.Eq{Column: clause.Column{Name: c.Column}, Value: c.Value})
	for i := last - 1; i >= 0; i-- {
		sub = s.db.Table(c.Via[i].Table).Select("id").
			Where("? IN (?)", clause.Column{Name: c.Via[i+1].Column}, sub)
	}
	return sub
}

// Query loads every record of entity matching conds, in order.
func (s *ReportSource) Query(ctx context.Context, entity report.Entity, conds []report.Condition, order string) ([]any, error) {
	q := s.where(ctx, conds)
	if order != "" {
		q = q.Order(order)
	}

	switch entity {
	case report.EntityUser:
		return load(q, userRecord.domain)
	case report.EntityCategory:
		return load(q, categoryRecord.domain)
	case report.EntityProgram:
		return load(q, programRecord.domain, "NextProgram")
	case report.EntityBeneficiary:
		return load(q, beneficiaryRecord.domain, "Category", "Program.NextProgram")
	case report.EntityCase:
		return load(q, caseRecord.domain,
			"Beneficiary.Category", "Beneficiary.Program", "CaseManager")
	case report.EntityCaseNote:
		return load(q, caseNoteRecord.domain,
			"Case.Beneficiary", "Case.CaseManager", "CreatedBy")
	case report.EntityAssessment:
		return load(q, assessmentRecord.domain,
			"Case.Beneficiary.Category", "Case.Beneficiary.Program", "Case.CaseManager", "CreatedBy")
	}
	return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownEntity, entity)
}

// Count returns how many records of entity match conds.
func (s *ReportSource) Count(ctx context.Context, entity report.Entity, conds []report.Condition) (int64, error) {
	var model any
	switch entity {
	case report.EntityUser:
		model = &userRecord{}
	case report.EntityCategory:
		model = &categoryRecord{}
	case report.EntityProgram:
		model = &programRecord{}
	case report.EntityBeneficiary:
		model = &beneficiaryRecord{}
	case report.EntityCase:
		model = &caseRecord{}
	case report.EntityCaseNote:
		model = &caseNoteRecord{}
	case report.EntityAssessment:
		model = &assessmentRecord{}
	default:
		return 0, fmt.Errorf("%w: %q", welfare.ErrUnknownEntity, entity)
	}

	var n int64
	if err := s.where(ctx, conds).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}

func load[R any, D any](q *gorm.DB, convert func(R) *D, preloads ...string) ([]any, error) {
	for _, p := range preloads {
		q = q.Preload(p)
	}
	var records []R
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = convert(r)
	}
	return out, nil
}

// =============================================================================
// RECORDS - gorm mappings of the tables created by migrate
// =============================================================================

type userRecord struct {
	ID        string `gorm:"primaryKey"`
	Username  string
	Email     string
	Role      string
	CreatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) domain() *welfare.User {
	return &welfare.User{
		ID:        welfare.UserID(r.ID),
		Username:  r.Username,
		Email:     r.Email,
		Role:      welfare.Role(r.Role),
		CreatedAt: r.CreatedAt,
	}
}

type categoryRecord struct {
	ID              string `gorm:"primaryKey"`
	Name            string
	Description     string
	MaxAnnualAmount decimal.Decimal
	CreatedAt       time.Time
}

func (categoryRecord) TableName() string { return "categories" }

func (r categoryRecord) domain() *welfare.Category {
	return &welfare.Category{
		ID:              welfare.CategoryID(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		MaxAnnualAmount: r.MaxAnnualAmount,
		CreatedAt:       r.CreatedAt,
	}
}

type programRecord struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Description   string
	MonthlyAmount decimal.Decimal
	NextProgramID *string
	NextProgram   *programRecord `gorm:"foreignKey:NextProgramID"`
	CreatedAt     time.Time
}

func (programRecord) TableName() string { return "programs" }

func (r programRecord) domain() *welfare.Program {
	p := &welfare.Program{
		ID:            welfare.ProgramID(r.ID),
		Name:          r.Name,
		Description:   r.Description,
		MonthlyAmount: r.MonthlyAmount,
		NextProgramID: typedID[welfare.ProgramID](r.NextProgramID),
		CreatedAt:     r.CreatedAt,
	}
	if r.NextProgram != nil {
		p.NextProgram = r.NextProgram.domain()
	}
	return p
}

type beneficiaryRecord struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	DateOfBirth *time.Time
	Gender      string
	Address     string
	CategoryID  *string
	Category    *categoryRecord `gorm:"foreignKey:CategoryID"`
	ProgramID   *string
	Program     *programRecord `gorm:"foreignKey:ProgramID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (beneficiaryRecord) TableName() string { return "beneficiaries" }

func (r beneficiaryRecord) domain() *welfare.Beneficiary {
	b := &welfare.Beneficiary{
		ID:         welfare.BeneficiaryID(r.ID),
		Name:       r.Name,
		Gender:     welfare.Gender(r.Gender),
		Address:    r.Address,
		CategoryID: typedID[welfare.CategoryID](r.CategoryID),
		ProgramID:  typedID[welfare.ProgramID](r.ProgramID),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.DateOfBirth != nil {
		b.DateOfBirth = *r.DateOfBirth
	}
	if r.Category != nil {
		b.Category = r.Category.domain()
	}
	if r.Program != nil {
		b.Program = r.Program.domain()
	}
	return b
}

type caseRecord struct {
	ID            string `gorm:"primaryKey"`
	Title         string
	BeneficiaryID string
	Beneficiary   *beneficiaryRecord `gorm:"foreignKey:BeneficiaryID"`
	CaseManagerID string
	CaseManager   *userRecord `gorm:"foreignKey:CaseManagerID"`
	Status        string
	Description   string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
}

func (caseRecord) TableName() string { return "cases" }

func (r caseRecord) domain() *welfare.Case {
	c := &welfare.Case{
		ID:            welfare.CaseID(r.ID),
		Title:         r.Title,
		BeneficiaryID: welfare.BeneficiaryID(r.BeneficiaryID),
		CaseManagerID: welfare.UserID(r.CaseManagerID),
		Status:        welfare.CaseStatus(r.Status),
		Description:   r.Description,
		OpenedAt:      r.OpenedAt,
		ClosedAt:      r.ClosedAt,
		CreatedAt:     r.CreatedAt,
	}
	if r.Beneficiary != nil {
		c.Beneficiary = r.Beneficiary.domain()
	}
	if r.CaseManager != nil {
		c.CaseManager = r.CaseManager.domain()
	}
	return c
}

type caseNoteRecord struct {
	ID          string `gorm:"primaryKey"`
	CaseID      string
	Case        *caseRecord `gorm:"foreignKey:CaseID"`
	CreatedByID string
	CreatedBy   *userRecord `gorm:"foreignKey:CreatedByID"`
	Content     string
	CreatedAt   time.Time
}

func (caseNoteRecord) TableName() string { return "case_notes" }

func (r caseNoteRecord) domain() *welfare.CaseNote {
	n := &welfare.CaseNote{
		ID:          welfare.CaseNoteID(r.ID),
		CaseID:      welfare.CaseID(r.CaseID),
		CreatedByID: welfare.UserID(r.CreatedByID),
		Content:     r.Content,
		CreatedAt:   r.CreatedAt,
	}
	if r.Case != nil {
		n.Case = r.Case.domain()
	}
	if r.CreatedBy != nil {
		n.CreatedBy = r.CreatedBy.domain()
	}
	return n
}

type assessmentRecord struct {
	ID             string `gorm:"primaryKey"`
	Title          string
	Description    string
	CaseID         string
	Case           *caseRecord `gorm:"foreignKey:CaseID"`
	CreatedByID    string
	CreatedBy      *userRecord `gorm:"foreignKey:CreatedByID"`
	AmountReceived decimal.Decimal
	IncomeAmount   decimal.Decimal
	Year           int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (assessmentRecord) TableName() string { return "assessments" }

func (r assessmentRecord) domain() *welfare.Assessment {
	a := &welfare.Assessment{
		ID:             welfare.AssessmentID(r.ID),
		Title:          r.Title,
		Description:    r.Description,
		CaseID:         welfare.CaseID(r.CaseID),
		CreatedByID:    welfare.UserID(r.CreatedByID),
		AmountReceived: r.AmountReceived,
		IncomeAmount:   r.IncomeAmount,
		Year:           r.Year,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Case != nil {
		a.Case = r.Case.domain()
	}
	if r.CreatedBy != nil {
		a.CreatedBy = r.CreatedBy.domain()
	}
	return a
}

func typedID[T ~string](s *string) *T {
	if s == nil {
		return nil
	}
	id := T(*s)
	return &id
}
