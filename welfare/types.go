/*
Package welfare provides the domain model of the casework system.

PURPOSE:
  Beneficiaries receive aid through cases. Every case collects assessments
  that record what was disbursed and what the beneficiary earns. Those
  assessments drive the beneficiary's placement in a monetary category and
  along a chain of support programs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: A monetary ceiling bracket (MaxAnnualAmount)
  - Program: A recurring disbursement track with an optional successor
  - Beneficiary: The person being helped, holding at most one category
    and one program at a time
  - Case / Assessment / CaseNote: The case work that feeds the engine
  - ReportTemplate / Report: Declarative report configuration and run log

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Type Safety: Each entity has its own ID type
  3. Flat records: Relations are IDs; the report source may attach loaded
     relations for projection, the engine never relies on them

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - store.go: Persistence interfaces
  - eligibility/engine.go: Promotion rules over these types
*/
package welfare

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type CategoryID string
type ProgramID string
type BeneficiaryID string
type CaseID string
type CaseNoteID string
type AssessmentID string
type TemplateID string
type ReportID string

// =============================================================================
// USERS AND ROLES
// =============================================================================

// Role is the acting user's role. Access scoping is keyed by it.
type Role string

const (
	RoleAdmin               Role = "admin"
	RoleCaseManager         Role = "case_manager"
	RoleFieldOfficer        Role = "field_officer"
	RolePartnerOrganisation Role = "partner_organisation"
	RoleME                  Role = "me"
	RoleProgramDirector     Role = "program_director"
)

// Roles lists every known role in display order.
var Roles = []Role{
	RoleAdmin, RoleCaseManager, RoleFieldOfficer,
	RolePartnerOrganisation, RoleME, RoleProgramDirector,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// DisplayName returns the human label for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleCaseManager:
		return "Case Manager"
	case RoleFieldOfficer:
		return "Field Officer"
	case RolePartnerOrganisation:
		return "Partner Organisation"
	case RoleME:
		return "Monitoring & Evaluation"
	case RoleProgramDirector:
		return "Program Director"
	}
	return string(r)
}

type User struct {
	ID        UserID
	Username  string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Principal is the acting user as supplied by the session layer.
// It is trusted as given.
type Principal struct {
	UserID UserID
	Role   Role
}

// =============================================================================
// CATEGORIES AND PROGRAMS
// =============================================================================

// Category is a monetary ceiling bracket. Categories have no explicit rank;
// they are ordered by MaxAnnualAmount at query time.
type Category struct {
	ID              CategoryID
	Name            string
	Description     string
	MaxAnnualAmount decimal.Decimal
	CreatedAt       time.Time
}

// Program is a recurring disbursement track. NextProgramID forms the
// promotion chain; see eligibility.ProgramGraph for validation.
type Program struct {
	ID            ProgramID
	Name          string
	Description   string
	MonthlyAmount decimal.Decimal
	NextProgramID *ProgramID
	CreatedAt     time.Time

	// Loaded by report sources only.
	NextProgram *Program
}

// =============================================================================
// BENEFICIARIES AND CASES
// =============================================================================

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

type Beneficiary struct {
	ID          BeneficiaryID
	Name        string
	DateOfBirth time.Time
	Gender      Gender
	Address     string
	CategoryID  *CategoryID
	ProgramID   *ProgramID
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Loaded by report sources only.
	Category *Category
	Program  *Program
}

type CaseStatus string

const (
	CaseOpen    CaseStatus = "open"
	CaseClosed  CaseStatus = "closed"
	CasePending CaseStatus = "pending"
)

type Case struct {
	ID            CaseID
	Title         string
	BeneficiaryID BeneficiaryID
	CaseManagerID UserID
	Status        CaseStatus
	Description   string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time

	// Loaded by report sources only.
	Beneficiary *Beneficiary
	CaseManager *User
}

type CaseNote struct {
	ID          CaseNoteID
	CaseID      CaseID
	CreatedByID UserID
	Content     string
	CreatedAt   time.Time

	// Loaded by report sources only.
	Case      *Case
	CreatedBy *User
}

// Assessment records one evaluation event on a case: what was disbursed and
// what the beneficiary reported as annual income. Creating or editing an
// assessment is the only trigger for promotion evaluation.
type Assessment struct {
	ID             AssessmentID
	Title          string
	Description    string
	CaseID         CaseID
	CreatedByID    UserID
	AmountReceived decimal.Decimal
	IncomeAmount   decimal.Decimal
	Year           int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Loaded by report sources only.
	Case      *Case
	CreatedBy *User
}

// =============================================================================
// REPORT CONFIGURATION
// =============================================================================

// ReportTemplate is a saved declarative projection.
type ReportTemplate struct {
	ID          TemplateID
	Name        string
	EntityType  string
	Fields      []string
	Filters     map[string]string
	CreatedByID UserID
	CreatedAt   time.Time
}

// Report is the log entry of one generated report.
type Report struct {
	ID            ReportID
	TemplateID    *TemplateID
	Name          string
	EntityType    string
	Fields        []string
	Filters       map[string]string
	Format        string
	RowCount      int
	GeneratedByID UserID
	GeneratedAt   time.Time
}
