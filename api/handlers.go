/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements HTTP handlers for the casework API. Handlers are thin: they
  decode, call the recorder or the report pipeline with the request's
  principal, and encode.

ENDPOINTS:
  Assessments:
    POST   /api/assessments                   Record + evaluate + promote
    PUT    /api/assessments/{id}              Edit + re-evaluate
    GET    /api/assessments/{id}/eligibility  Dry-run, writes nothing

  Beneficiaries:
    GET    /api/beneficiaries/{id}/total-received

  Reports:
    GET    /api/reports                       Log (admin: all, else own)
    POST   /api/reports                       Generate in any export format
    GET    /api/report-templates
    POST   /api/report-templates
    GET    /api/dashboard

ERROR HANDLING:
  validation          -> 400 with per-field details
  unknown entity/fmt  -> 400
  unknown role        -> 403
  not found           -> 404
  everything else     -> 500, details logged not returned

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Route definitions
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/report"
	"github.com/warp/casework/report/export"
	"github.com/warp/casework/welfare"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store    welfare.TxStore
	Recorder *eligibility.Recorder
	Pipeline *report.Pipeline
	Export   export.Options
	Logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewHandler creates a new handler.
func NewHandler(store welfare.TxStore, recorder *eligibility.Recorder, pipeline *report.Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Recorder: recorder,
		Pipeline: pipeline,
		Logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// =============================================================================
// ASSESSMENT ENDPOINTS
// =============================================================================

// CreateAssessment records an assessment and applies any promotion.
func (h *Handler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Recorder.Record(r.Context(), principal(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssessmentResponse(res))
}

// UpdateAssessment edits an assessment and re-evaluates.
func (h *Handler) UpdateAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if !decode(w, r, &req) {
		return
	}
	id := welfare.AssessmentID(chi.URLParam(r, "id"))
	res, err := h.Recorder.Update(r.Context(), principal(r), id, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssessmentResponse(res))
}

// GetEligibility evaluates a stored assessment without applying anything.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	id := welfare.AssessmentID(chi.URLParam(r, "id"))
	outcome, err := h.Recorder.DryRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// GetTotalReceived returns the lifetime amount received by a beneficiary.
func (h *Handler) GetTotalReceived(w http.ResponseWriter, r *http.Request) {
	id := welfare.BeneficiaryID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetBeneficiary(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := eligibility.NewEngine(h.Store).TotalAmountReceived(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TotalReceivedDTO{BeneficiaryID: string(id), TotalAmountReceived: total})
}

func toAssessmentResponse(res *eligibility.Result) AssessmentResponse {
	msgs := res.Messages()
	if msgs == nil {
		msgs = []string{}
	}
	return AssessmentResponse{
		Assessment: toAssessmentDTO(res.Assessment),
		Outcome:    toOutcomeDTO(res.Outcome),
		Messages:   msgs,
	}
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// CreateReport generates a report, logs it and returns it rendered in the
// requested format. The body is rendered fully before anything is written,
// so a formatter failure is still a clean 500.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var body ReportRequest
	if !decode(w, r, &body) {
		return
	}
	ctx := r.Context()
	p := principal(r)

	req, err := h.reportRequest(r, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	format := body.Format
	if format == "" {
		format = export.FormatJSON
	}
	formatter, err := export.New(ctx, format, h.Export)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	table, err := h.Pipeline.Generate(ctx, p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := formatter.Format(ctx, &buf, table); err != nil {
		h.fail(w, r, fmt.Errorf("render %s: %w", format, err))
		return
	}

	entry := table.Entry(welfare.ReportID(h.newID()), p.UserID, req.Filters, format)
	if err := h.Store.SaveReport(ctx, entry); err != nil {
		// The report itself is fine; a missing log entry is not worth a 500.
		h.Logger.Warn("report log write failed", zap.String("report_id", string(entry.ID)), zap.Error(err))
	}

	w.Header().Set("Content-Type", formatter.ContentType())
	w.Header().Set("X-Report-Id", string(entry.ID))
	if format != export.FormatJSON {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s%s"`, fileName(table.Title), formatter.Extension()))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) reportRequest(r *http.Request, body ReportRequest) (report.Request, error) {
	if body.TemplateID != "" {
		tpl, err := h.Store.GetTemplate(r.Context(), welfare.TemplateID(body.TemplateID))
		if err != nil {
			return report.Request{}, err
		}
		req, err := report.RequestFromTemplate(*tpl)
		if err != nil {
			return report.Request{}, err
		}
		if len(body.Fields) > 0 {
			req.Fields = body.Fields
		}
		if len(body.Filters) > 0 {
			req.Filters = report.Filters(body.Filters)
		}
		if body.Title != "" {
			req.Title = body.Title
		}
		return req, nil
	}

	if body.Entity == "" {
		return report.Request{}, &welfare.ValidationError{Field: "entity", Message: "entity or template_id is required"}
	}
	entity, err := report.ParseEntity(body.Entity)
	if err != nil {
		return report.Request{}, err
	}
	return report.Request{
		Title:   body.Title,
		Entity:  entity,
		Fields:  body.Fields,
		Filters: report.Filters(body.Filters),
	}, nil
}

// ListReports returns the report log. Admins see every entry.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var by *welfare.UserID
	if p.Role != welfare.RoleAdmin {
		by = &p.UserID
	}
	reports, err := h.Store.ListReports(r.Context(), by)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ReportDTO, len(reports))
	for i, rep := range reports {
		out[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Store.ListTemplates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]TemplateDTO, len(templates))
	for i, t := range templates {
		out[i] = toTemplateDTO(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateTemplate saves a projection. Every field path must resolve against
// the entity's schema; filters are checked at generation time.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !decode(w, r, &req) {
		return
	}

	var errs welfare.ValidationErrors
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, &welfare.ValidationError{Field: "name", Message: "is required"})
	}
	entity, err := report.ParseEntity(req.Entity)
	if err != nil || entity == report.EntityUser {
		errs = append(errs, &welfare.ValidationError{Field: "entity", Message: fmt.Sprintf("unknown entity %q", req.Entity)})
	} else {
		for _, f := range req.Fields {
			if !h.Pipeline.Schema.Valid(entity, f) {
				errs = append(errs, &welfare.ValidationError{Field: "fields", Message: fmt.Sprintf("%q does not resolve on %s", f, entity)})
			}
		}
	}
	if len(errs) > 0 {
		h.fail(w, r, errs)
		return
	}

	tpl := welfare.ReportTemplate{
		ID:          welfare.TemplateID(h.newID()),
		Name:        strings.TrimSpace(req.Name),
		EntityType:  string(entity),
		Fields:      req.Fields,
		Filters:     req.Filters,
		CreatedByID: principal(r).UserID,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.Store.SaveTemplate(r.Context(), tpl); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateDTO(tpl))
}

// GetDashboard returns the caller's role counters.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Pipeline.Dashboard(r.Context(), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// =============================================================================
// HELPERS
// =============================================================================

func principal(r *http.Request) welfare.Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// fail maps a domain error to a status and body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case welfare.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: err.Error(),
			Fields:  fieldErrors(err),
		})
	case welfare.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, welfare.ErrUnknownRole):
		writeError(w, http.StatusForbidden, "Role has no access", err)
	case welfare.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func fieldErrors(err error) []FieldErrDTO {
	var many welfare.ValidationErrors
	if errors.As(err, &many) {
		out := make([]FieldErrDTO, len(many))
		for i, e := range many {
			out[i] = FieldErrDTO{Field: e.Field, Message: e.Message}
		}
		return out
	}
	var one *welfare.ValidationError
	if errors.As(err, &one) {
		return []FieldErrDTO{{Field: one.Field, Message: one.Message}}
	}
	return nil
}

// fileName turns a report title into a safe download name.
func fileName(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
