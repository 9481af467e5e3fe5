/*
Package report turns declarative, role-scoped requests into flat tables.

PURPOSE:
  A report request names an entity, a list of field paths and a set of
  filters. The pipeline:

    1. ScopeFilters  - applies the principal's role constraints on top of
                       the user's filters (role always wins)
    2. ResolveRows   - coerces filters through the schema and asks the
                       Source for matching records in default order
    3. Project       - walks each field path on each record; a broken
                       walk is a nil cell, never an error

  The result is a Table of raw values. Formatting (money, dates, titles)
  belongs to report/export.

KEY CONCEPTS:
  - AccessPolicy: one per role, one method per entity (policy.go)
  - Schema: entity -> field -> kind, column, accessor (schema.go)
  - Source: storage that can run equality conditions and counts

EXAMPLE:
  p := report.NewPipeline(source, logger)
  table, err := p.Generate(ctx, principal, report.Request{
      Entity: report.EntityBeneficiary,
      Fields: []string{"name", "category__name"},
  })

SEE ALSO:
  - store/sqlite/report_source.go: gorm-backed Source
  - report/export: Formatters for Table
*/
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/casework/welfare"
)

// Source runs equality-filtered queries for the pipeline. Records are
// pointers to welfare types with references loaded.
type Source interface {
	Query(ctx context.Context, entity Entity, conds []Condition, order string) ([]any, error)
	Count(ctx context.Context, entity Entity, conds []Condition) (int64, error)
}

// Row is one projected record, one cell per requested field.
type Row []any

// Request describes one report.
type Request struct {
	Title      string
	Entity     Entity
	Fields     []string
	Filters    Filters
	TemplateID *welfare.TemplateID
}

// RequestFromTemplate builds a request from a saved template.
func RequestFromTemplate(tpl welfare.ReportTemplate) (Request, error) {
	entity, err := ParseEntity(tpl.EntityType)
	if err != nil {
		return Request{}, fmt.Errorf("template %s: %w", tpl.ID, err)
	}
	id := tpl.ID
	return Request{
		Title:      tpl.Name,
		Entity:     entity,
		Fields:     append([]string(nil), tpl.Fields...),
		Filters:    Filters(tpl.Filters).clone(),
		TemplateID: &id,
	}, nil
}

// Table is what the pipeline hands to an export formatter.
type Table struct {
	Title       string
	Entity      Entity
	Fields      []string
	Headers     []string
	Rows        []Row
	RowCount    int
	GeneratedBy string
	GeneratedAt time.Time
	TemplateID  *welfare.TemplateID
}

// Entry is the report log record for t rendered in format.
func (t *Table) Entry(id welfare.ReportID, by welfare.UserID, filters Filters, format string) welfare.Report {
	return welfare.Report{
		ID:            id,
		TemplateID:    t.TemplateID,
		Name:          t.Title,
		EntityType:    string(t.Entity),
		Fields:        append([]string(nil), t.Fields...),
		Filters:       filters.clone(),
		Format:        format,
		RowCount:      t.RowCount,
		GeneratedByID: by,
		GeneratedAt:   t.GeneratedAt,
	}
}

// =============================================================================
// PIPELINE
// =============================================================================

type Pipeline struct {
	Source Source
	Schema Schema
	// Location is applied to every time cell and to GeneratedAt.
	Location *time.Location
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewPipeline(source Source, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Source:   source,
		Schema:   DefaultSchema,
		Location: time.UTC,
		Logger:   logger,
		Now:      time.Now,
	}
}

// ResolveRows returns the records of entity matching filters. Filters are
// expected to be scoped already.
func (p *Pipeline) ResolveRows(ctx context.Context, entity Entity, filters Filters) ([]any, error) {
	if _, err := ParseEntity(string(entity)); err != nil {
		return nil, fmt.Errorf("%w: %q", err, entity)
	}
	conds, dropped := p.Schema.Conditions(entity, filters)
	if len(dropped) > 0 {
		p.Logger.Debug("report filters dropped",
			zap.String("entity", string(entity)),
			zap.Strings("keys", dropped))
	}
	rows, err := p.Source.Query(ctx, entity, conds, p.Schema[entity].Order)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	return rows, nil
}

// Project resolves every field path on every record.
func (p *Pipeline) Project(entity Entity, rows []any, paths []string) []Row {
	out := make([]Row, len(rows))
	for i, rec := range rows {
		row := make(Row, len(paths))
		for j, path := range paths {
			row[j] = p.localize(p.Schema.Resolve(entity, rec, path))
		}
		out[i] = row
	}
	return out
}

// Generate runs scope, resolve and project for one request.
func (p *Pipeline) Generate(ctx context.Context, principal welfare.Principal, req Request) (*Table, error) {
	es, ok := p.Schema[req.Entity]
	if _, err := ParseEntity(string(req.Entity)); err != nil || !ok {
		return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownEntity, req.Entity)
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = es.Defaults
	}
	for _, f := range fields {
		if !p.Schema.Valid(req.Entity, f) {
			p.Logger.Debug("report field does not resolve",
				zap.String("entity", string(req.Entity)),
				zap.String("field", f))
		}
	}

	scoped, err := ScopeFilters(principal, req.Entity, req.Filters)
	if err != nil {
		return nil, err
	}

	rows, err := p.ResolveRows(ctx, req.Entity, scoped)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = es.Title
	}
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = Humanize(f)
	}

	t := &Table{
		Title:       title,
		Entity:      req.Entity,
		Fields:      append([]string(nil), fields...),
		Headers:     headers,
		Rows:        p.Project(req.Entity, rows, fields),
		RowCount:    len(rows),
		GeneratedBy: p.displayName(ctx, principal),
		GeneratedAt: p.Now().In(p.Location),
		TemplateID:  req.TemplateID,
	}

	p.Logger.Info("report generated",
		zap.String("entity", string(req.Entity)),
		zap.String("user_id", string(principal.UserID)),
		zap.String("role", string(principal.Role)),
		zap.Int("rows", t.RowCount))
	return t, nil
}

func (p *Pipeline) localize(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.In(p.Location)
	}
	return v
}

// displayName is the principal's username, or the raw ID if the user is
// not on file.
func (p *Pipeline) displayName(ctx context.Context, principal welfare.Principal) string {
	users, err := p.Source.Query(ctx, EntityUser, []Condition{{Column: "id", Value: string(principal.UserID)}}, "")
	if err != nil || len(users) == 0 {
		return string(principal.UserID)
	}
	if u, ok := users[0].(*welfare.User); ok && u.Username != "" {
		return u.Username
	}
	return string(principal.UserID)
}

// Humanize turns a field path into a column header:
// "case__beneficiary__name" becomes "Case Beneficiary Name".
func Humanize(path string) string {
	var words []string
	for _, seg := range SplitPath(path) {
		for _, w := range strings.Split(seg, "_") {
			if w == "" {
				continue
			}
			words = append(words, strings.ToUpper(w[:1])+w[1:])
		}
	}
	return strings.Join(words, " ")
}

// =============================================================================
// DASHBOARD
// =============================================================================

type Counter struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

type Dashboard struct {
	Role     welfare.Role `json:"role"`
	Title    string       `json:"title"`
	Counters []Counter    `json:"counters"`
}

type counterSpec struct {
	label   string
	entity  Entity
	filters Filters
}

var (
	countUsers         = counterSpec{"Users", EntityUser, nil}
	countBeneficiaries = counterSpec{"Beneficiaries", EntityBeneficiary, nil}
	countOpenCases     = counterSpec{"Open Cases", EntityCase, Filters{"status": string(welfare.CaseOpen)}}
	countAssessments   = counterSpec{"Assessments", EntityAssessment, nil}
	countMyOpenCases   = counterSpec{"My Open Cases", EntityCase, Filters{"status": string(welfare.CaseOpen)}}
	countMyAssessments = counterSpec{"My Assessments", EntityAssessment, nil}
	countMyCaseNotes   = counterSpec{"My Case Notes", EntityCaseNote, nil}
)

// Ownership on the "My" counters comes from the role's access policy.
var dashboards = map[welfare.Role][]counterSpec{
	welfare.RoleAdmin:               {countUsers, countBeneficiaries, countOpenCases, countAssessments},
	welfare.RoleCaseManager:         {countMyOpenCases, countBeneficiaries, countMyAssessments},
	welfare.RoleFieldOfficer:        {countMyAssessments, countMyCaseNotes, countBeneficiaries},
	welfare.RolePartnerOrganisation: {countMyAssessments, countMyCaseNotes, countBeneficiaries},
	welfare.RoleME:                  {countBeneficiaries, countOpenCases, countAssessments},
	welfare.RoleProgramDirector:     {countBeneficiaries, countOpenCases, countAssessments},
}

// Dashboard returns the role's summary counters.
func (p *Pipeline) Dashboard(ctx context.Context, principal welfare.Principal) (*Dashboard, error) {
	specs, ok := dashboards[principal.Role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownRole, principal.Role)
	}

	d := &Dashboard{
		Role:  principal.Role,
		Title: principal.Role.DisplayName() + " Dashboard",
	}
	for _, spec := range specs {
		scoped, err := ScopeFilters(principal, spec.entity, spec.filters)
		if err != nil {
			return nil, err
		}
		conds, _ := p.Schema.Conditions(spec.entity, scoped)
		n, err := p.Source.Count(ctx, spec.entity, conds)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", spec.entity, err)
		}
		d.Counters = append(d.Counters, Counter{Label: spec.label, Value: n})
	}
	return d, nil
}
