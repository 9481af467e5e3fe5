/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  decimal.Decimal marshals as a JSON string ("750000") and accepts either a
  string or a number on input.

VALIDATION:
  Validation is done in handlers and the recorder, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/welfare"
)

// =============================================================================
// ASSESSMENTS
// =============================================================================

// AssessmentRequest is the body of create and update.
type AssessmentRequest struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	CaseID         string          `json:"case_id"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	IncomeAmount   decimal.Decimal `json:"income_amount"`
	Year           int             `json:"year"`
}

func (r AssessmentRequest) input() eligibility.AssessmentInput {
	return eligibility.AssessmentInput{
		Title:          r.Title,
		Description:    r.Description,
		CaseID:         welfare.CaseID(r.CaseID),
		AmountReceived: r.AmountReceived,
		IncomeAmount:   r.IncomeAmount,
		Year:           r.Year,
	}
}

type AssessmentDTO struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	CaseID         string          `json:"case_id"`
	CreatedByID    string          `json:"created_by_id"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	IncomeAmount   decimal.Decimal `json:"income_amount"`
	Year           int             `json:"year"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toAssessmentDTO(a welfare.Assessment) AssessmentDTO {
	return AssessmentDTO{
		ID:             string(a.ID),
		Title:          a.Title,
		Description:    a.Description,
		CaseID:         string(a.CaseID),
		CreatedByID:    string(a.CreatedByID),
		AmountReceived: a.AmountReceived,
		IncomeAmount:   a.IncomeAmount,
		Year:           a.Year,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// DecisionDTO is one engine decision. From/To are display names.
type DecisionDTO struct {
	Dimension     string           `json:"dimension"`
	Kind          string           `json:"kind"`
	Reason        string           `json:"reason"`
	BeneficiaryID string           `json:"beneficiary_id"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Income        *decimal.Decimal `json:"income,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Message       string           `json:"message,omitempty"`
}

func toDecisionDTO(d eligibility.Decision) DecisionDTO {
	dto := DecisionDTO{
		Dimension:     string(d.Dimension),
		Kind:          string(d.Kind),
		Reason:        string(d.Reason),
		BeneficiaryID: string(d.Beneficiary.ID),
		From:          d.FromName(),
		To:            d.ToName(),
	}
	if d.Dimension == eligibility.DimensionCategory {
		income, total := d.Income, d.Total
		dto.Income, dto.Total = &income, &total
	}
	if d.Promotes() {
		dto.Message = d.Message()
	}
	return dto
}

type OutcomeDTO struct {
	Category DecisionDTO `json:"category"`
	Program  DecisionDTO `json:"program"`
}

func toOutcomeDTO(o eligibility.Outcome) OutcomeDTO {
	return OutcomeDTO{Category: toDecisionDTO(o.Category), Program: toDecisionDTO(o.Program)}
}

// AssessmentResponse is returned by create and update.
type AssessmentResponse struct {
	Assessment AssessmentDTO `json:"assessment"`
	Outcome    OutcomeDTO    `json:"outcome"`
	// Messages are the human-readable promotions, category first.
	Messages []string `json:"messages"`
}

type TotalReceivedDTO struct {
	BeneficiaryID       string          `json:"beneficiary_id"`
	TotalAmountReceived decimal.Decimal `json:"total_amount_received"`
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportRequest names either a template or an entity. With a template,
// Fields and Filters replace the template's when non-empty.
type ReportRequest struct {
	TemplateID string            `json:"template_id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Entity     string            `json:"entity,omitempty"`
	Fields     []string          `json:"fields,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	Format     string            `json:"format"`
}

type ReportDTO struct {
	ID            string            `json:"id"`
	TemplateID    *string           `json:"template_id,omitempty"`
	Name          string            `json:"name"`
	EntityType    string            `json:"entity_type"`
	Fields        []string          `json:"fields"`
	Filters       map[string]string `json:"filters"`
	Format        string            `json:"format"`
	RowCount      int               `json:"row_count"`
	GeneratedByID string            `json:"generated_by_id"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

func toReportDTO(r welfare.Report) ReportDTO {
	dto := ReportDTO{
		ID:            string(r.ID),
		Name:          r.Name,
		EntityType:    r.EntityType,
		Fields:        r.Fields,
		Filters:       r.Filters,
		Format:        r.Format,
		RowCount:      r.RowCount,
		GeneratedByID: string(r.GeneratedByID),
		GeneratedAt:   r.GeneratedAt,
	}
	if r.TemplateID != nil {
		id := string(*r.TemplateID)
		dto.TemplateID = &id
	}
	if dto.Fields == nil {
		dto.Fields = []string{}
	}
	if dto.Filters == nil {
		dto.Filters = map[string]string{}
	}
	return dto
}

type TemplateRequest struct {
	Name    string            `json:"name"`
	Entity  string            `json:"entity"`
	Fields  []string          `json:"fields"`
	Filters map[string]string `json:"filters"`
}

type TemplateDTO struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Entity      string            `json:"entity"`
	Fields      []string          `json:"fields"`
	Filters     map[string]string `json:"filters"`
	CreatedByID string            `json:"created_by_id"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toTemplateDTO(t welfare.ReportTemplate) TemplateDTO {
	dto := TemplateDTO{
		ID:          string(t.ID),
		Name:        t.Name,
		Entity:      t.EntityType,
		Fields:      t.Fields,
		Filters:     t.Filters,
		CreatedByID: string(t.CreatedByID),
		CreatedAt:   t.CreatedAt,
	}
	if dto.Fields == nil {
		dto.Fields = []string{}
	}
	if dto.Filters == nil {
		dto.Filters = map[string]string{}
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Details string        `json:"details,omitempty"`
	Fields  []FieldErrDTO `json:"fields,omitempty"`
}

type FieldErrDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
