package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/casework/welfare"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource returns canned records and remembers what it was asked.
type fakeSource struct {
	rows   map[Entity][]any
	counts map[Entity]int64

	queries []query
	err     error
}

type query struct {
	entity Entity
	conds  []Condition
	order  string
}

func (f *fakeSource) Query(_ context.Context, entity Entity, conds []Condition, order string) ([]any, error) {
	f.queries = append(f.queries, query{entity, conds, order})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[entity], nil
}

func (f *fakeSource) Count(_ context.Context, entity Entity, conds []Condition) (int64, error) {
	f.queries = append(f.queries, query{entity: entity, conds: conds})
	return f.counts[entity], f.err
}

// lastQuery returns the most recent non-user query.
func (f *fakeSource) lastQuery(t *testing.T) query {
	t.Helper()
	for i := len(f.queries) - 1; i >= 0; i-- {
		if f.queries[i].entity != EntityUser {
			return f.queries[i]
		}
	}
	t.Fatal("no query recorded")
	return query{}
}

var (
	caseManager = welfare.Principal{UserID: "cm-1", Role: welfare.RoleCaseManager}
	admin       = welfare.Principal{UserID: "admin-1", Role: welfare.RoleAdmin}
	fixedNow    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestPipeline(src Source) *Pipeline {
	p := NewPipeline(src, nil)
	p.Now = func() time.Time { return fixedNow }
	return p
}

// =============================================================================
// SCOPE FILTERS
// =============================================================================

func TestScopeFilters_RoleConstraintWins(t *testing.T) {
	// GIVEN: A case manager asking for another manager's cases
	user := Filters{"case_manager": "cm-2", "status": "open"}

	// WHEN: Scoping
	got, err := ScopeFilters(caseManager, EntityCase, user)

	// THEN: The role constraint replaces the user value
	require.NoError(t, err)
	assert.Equal(t, Filters{"case_manager": "cm-1", "status": "open"}, got)
	assert.Equal(t, "cm-2", user["case_manager"], "input is not mutated")
}

func TestScopeFilters_PerRole(t *testing.T) {
	tests := []struct {
		role   welfare.Role
		entity Entity
		want   Filters
	}{
		{welfare.RoleAdmin, EntityCase, Filters{}},
		{welfare.RoleME, EntityAssessment, Filters{}},
		{welfare.RoleProgramDirector, EntityCaseNote, Filters{}},
		{welfare.RoleCaseManager, EntityCase, Filters{"case_manager": "u1"}},
		{welfare.RoleCaseManager, EntityAssessment, Filters{"created_by": "u1"}},
		{welfare.RoleCaseManager, EntityCaseNote, Filters{"created_by": "u1"}},
		{welfare.RoleCaseManager, EntityBeneficiary, Filters{}},
		{welfare.RoleFieldOfficer, EntityCase, Filters{}},
		{welfare.RoleFieldOfficer, EntityAssessment, Filters{"created_by": "u1"}},
		{welfare.RoleFieldOfficer, EntityCaseNote, Filters{"created_by": "u1"}},
		{welfare.RolePartnerOrganisation, EntityAssessment, Filters{"created_by": "u1"}},
		{welfare.RolePartnerOrganisation, EntityProgram, Filters{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.entity), func(t *testing.T) {
			got, err := ScopeFilters(welfare.Principal{UserID: "u1", Role: tt.role}, tt.entity, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopeFilters_UnknownRole(t *testing.T) {
	_, err := ScopeFilters(welfare.Principal{UserID: "u1", Role: "auditor"}, EntityCase, nil)
	assert.ErrorIs(t, err, welfare.ErrUnknownRole)
}

func TestScopeFilters_RestrictedRoleNeedsUser(t *testing.T) {
	_, err := ScopeFilters(welfare.Principal{Role: welfare.RoleFieldOfficer}, EntityAssessment, nil)
	assert.True(t, welfare.IsValidation(err))
}

// =============================================================================
// RESOLVE ROWS
// =============================================================================

func TestResolveRows_CaseManagerScopedEvenWithConflictingFilter(t *testing.T) {
	// GIVEN: A case manager requesting cases with a different manager filter
	src := &fakeSource{}
	p := newTestPipeline(src)

	// WHEN: Generating a case report
	_, err := p.Generate(context.Background(), caseManager, Request{
		Entity:  EntityCase,
		Filters: Filters{"case_manager": "someone-else"},
	})

	// THEN: Only the requesting manager's cases are asked for
	require.NoError(t, err)
	q := src.lastQuery(t)
	assert.Equal(t, []Condition{{Column: "case_manager_id", Value: "cm-1"}}, q.conds)
	assert.Equal(t, "opened_at DESC, id", q.order)
}

func TestResolveRows_SkipsEmptyAndDropsMalformed(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(src)

	_, err := p.ResolveRows(context.Background(), EntityAssessment, Filters{
		"year":            "twenty",                    // does not coerce
		"income_amount":   "lots",                      // not a decimal
		"title":           "",                          // empty
		"title__x":        "y",                         // walks through a non-reference
		"nonsense":        "1",                         // unknown
		"amount_received": "100.50",                    // decimal, canonical form
		"created_at":      "2025-01-15T11:00:00+02:00", // time, UTC
		"case":            "case-1",                    // foreign key
		"case__title":     "x",                         // through the case
		"created_by":      " cm-1 ",                    // trimmed
	})

	require.NoError(t, err)
	want := []Condition{
		{Column: "amount_received", Value: "100.5"},
		{Column: "case_id", Value: "case-1"},
		{Via: []Hop{{Column: "case_id", Table: "cases"}}, Column: "title", Value: "x"},
		{Column: "created_at", Value: "2025-01-15T09:00:00Z"},
		{Column: "created_by_id", Value: "cm-1"},
	}
	if diff := cmp.Diff(want, src.lastQuery(t).conds); diff != "" {
		t.Errorf("conditions mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveRows_PathFiltersHopThroughReferences(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(src)

	_, err := p.ResolveRows(context.Background(), EntityAssessment, Filters{
		"case__beneficiary__category__name": "Category 1",
	})
	require.NoError(t, err)
	assert.Equal(t, []Condition{{
		Via: []Hop{
			{Column: "case_id", Table: "cases"},
			{Column: "beneficiary_id", Table: "beneficiaries"},
			{Column: "category_id", Table: "categories"},
		},
		Column: "name",
		Value:  "Category 1",
	}}, src.lastQuery(t).conds)

	// a path ending on a reference compares its id
	_, err = p.ResolveRows(context.Background(), EntityCase, Filters{"beneficiary.category": "c500"})
	require.NoError(t, err)
	assert.Equal(t, []Condition{{
		Via:    []Hop{{Column: "beneficiary_id", Table: "beneficiaries"}},
		Column: "category_id",
		Value:  "c500",
	}}, src.lastQuery(t).conds)
}

func TestResolveRows_FreeTextAndDecimalFiltersNarrow(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(src)

	_, err := p.ResolveRows(context.Background(), EntityCategory, Filters{
		"max_annual_amount": "500000.00",
		"description":       "Lowest band",
	})
	require.NoError(t, err)
	assert.Equal(t, []Condition{
		{Column: "description", Value: "Lowest band"},
		{Column: "max_annual_amount", Value: "500000"},
	}, src.lastQuery(t).conds)

	_, err = p.ResolveRows(context.Background(), EntityCase, Filters{"closed_at": "2025-02-01"})
	require.NoError(t, err)
	assert.Equal(t, []Condition{{Column: "closed_at", Value: "2025-02-01T00:00:00Z"}}, src.lastQuery(t).conds)
}

func TestResolveRows_CoercesKinds(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(src)

	_, err := p.ResolveRows(context.Background(), EntityBeneficiary, Filters{
		"gender":        "Female",
		"date_of_birth": "1990-04-02",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Condition{
		{Column: "gender", Value: "female"},
		{Column: "date_of_birth", Value: "1990-04-02T00:00:00Z"},
	}, src.lastQuery(t).conds)

	_, err = p.ResolveRows(context.Background(), EntityAssessment, Filters{"year": "2024"})
	require.NoError(t, err)
	assert.Equal(t, []Condition{{Column: "year", Value: 2024}}, src.lastQuery(t).conds)

	_, err = p.ResolveRows(context.Background(), EntityCase, Filters{"status": "archived"})
	require.NoError(t, err)
	assert.Empty(t, src.lastQuery(t).conds, "unknown enum value is dropped")
}

func TestResolveRows_LogsDroppedKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewPipeline(&fakeSource{}, zap.New(core))

	_, err := p.ResolveRows(context.Background(), EntityAssessment, Filters{"year": "soon"})

	require.NoError(t, err)
	entries := logs.FilterMessage("report filters dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []interface{}{"year"}, entries[0].ContextMap()["keys"])
}

func TestResolveRows_UnknownEntity(t *testing.T) {
	p := newTestPipeline(&fakeSource{})
	_, err := p.ResolveRows(context.Background(), "referral", nil)
	assert.ErrorIs(t, err, welfare.ErrUnknownEntity)

	_, err = p.Generate(context.Background(), admin, Request{Entity: EntityUser})
	assert.ErrorIs(t, err, welfare.ErrUnknownEntity, "users are not a report base")
}

func TestResolveRows_SourceError(t *testing.T) {
	p := newTestPipeline(&fakeSource{err: errors.New("database is locked")})
	_, err := p.ResolveRows(context.Background(), EntityProgram, nil)
	assert.ErrorContains(t, err, "database is locked")
}

// =============================================================================
// PROJECT
// =============================================================================

func TestProject_NilReferenceYieldsNilCell(t *testing.T) {
	// GIVEN: A beneficiary without a category
	ben := &welfare.Beneficiary{ID: "b1", Name: "Amina"}
	p := newTestPipeline(&fakeSource{})

	// WHEN: Projecting a path through the category
	rows := p.Project(EntityBeneficiary, []any{ben}, []string{"name", "category__name", "category.max_annual_amount"})

	// THEN: Nil cells, no panic
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"Amina", nil, nil}, rows[0])
}

func TestProject_WalksNestedPaths(t *testing.T) {
	cat := &welfare.Category{ID: "c1", Name: "Category 2", MaxAnnualAmount: decimal.RequireFromString("750000")}
	next := &welfare.Program{ID: "p2", Name: "Graduation"}
	prog := &welfare.Program{ID: "p1", Name: "Cash Transfer", NextProgram: next}
	ben := &welfare.Beneficiary{ID: "b1", Name: "Amina", Category: cat, Program: prog}
	mgr := &welfare.User{ID: "cm-1", Username: "casey"}
	c := &welfare.Case{ID: "k1", Title: "Housing", Beneficiary: ben, CaseManager: mgr, Status: welfare.CaseOpen}
	a := &welfare.Assessment{ID: "a1", Title: "Q1", Case: c, Year: 2025, AmountReceived: decimal.RequireFromString("1200.50")}

	p := newTestPipeline(&fakeSource{})
	rows := p.Project(EntityAssessment, []any{a}, []string{
		"title",
		"case__beneficiary__name",
		"case__beneficiary__category__max_annual_amount",
		"case__beneficiary__program__next_program__name",
		"case__case_manager",
		"case__beneficiary__program__next_program__next_program__name",
		"case__title__oops",
		"created_by__username",
		"year",
		"amount_received",
	})

	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "Q1", r[0])
	assert.Equal(t, "Amina", r[1])
	assert.True(t, decimal.RequireFromString("750000").Equal(r[2].(decimal.Decimal)))
	assert.Equal(t, "Graduation", r[3])
	assert.Equal(t, "casey", r[4], "a path ending on a reference shows its display field")
	assert.Nil(t, r[5], "end of chain")
	assert.Nil(t, r[6], "cannot walk through a scalar")
	assert.Nil(t, r[7], "reference not loaded")
	assert.Equal(t, 2025, r[8])
	assert.Equal(t, "1200.5", r[9].(decimal.Decimal).String())
}

func TestProject_ClosedAtNilIsNilCell(t *testing.T) {
	p := newTestPipeline(&fakeSource{})
	rows := p.Project(EntityCase, []any{&welfare.Case{ID: "k1"}}, []string{"closed_at"})
	assert.Nil(t, rows[0][0])
}

func TestProject_TimesInPipelineLocation(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	p := newTestPipeline(&fakeSource{})
	p.Location = loc

	at := time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC)
	rows := p.Project(EntityCaseNote, []any{&welfare.CaseNote{ID: "n1", CreatedAt: at}}, []string{"created_at"})

	got := rows[0][0].(time.Time)
	assert.Equal(t, 2, got.Day())
	assert.True(t, got.Equal(at))
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_BuildsTable(t *testing.T) {
	src := &fakeSource{rows: map[Entity][]any{
		EntityBeneficiary: {
			&welfare.Beneficiary{ID: "b1", Name: "Amina", Category: &welfare.Category{Name: "Category 1"}},
			&welfare.Beneficiary{ID: "b2", Name: "Juma"},
		},
		EntityUser: {&welfare.User{ID: "admin-1", Username: "root"}},
	}}
	p := newTestPipeline(src)

	table, err := p.Generate(context.Background(), admin, Request{
		Entity: EntityBeneficiary,
		Fields: []string{"name", "category__name"},
	})

	require.NoError(t, err)
	want := &Table{
		Title:       "Beneficiaries",
		Entity:      EntityBeneficiary,
		Fields:      []string{"name", "category__name"},
		Headers:     []string{"Name", "Category Name"},
		Rows:        []Row{{"Amina", "Category 1"}, {"Juma", nil}},
		RowCount:    2,
		GeneratedBy: "root",
		GeneratedAt: fixedNow,
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_DefaultFields(t *testing.T) {
	p := newTestPipeline(&fakeSource{})
	table, err := p.Generate(context.Background(), admin, Request{Entity: EntityCategory})

	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Max Annual Amount", "Description"}, table.Headers)
	assert.Equal(t, "admin-1", table.GeneratedBy, "unknown user falls back to ID")
	assert.Zero(t, table.RowCount)
}

func TestRequestFromTemplate(t *testing.T) {
	tpl := welfare.ReportTemplate{
		ID:         "t1",
		Name:       "Open cases",
		EntityType: "case",
		Fields:     []string{"title"},
		Filters:    map[string]string{"status": "open"},
	}
	req, err := RequestFromTemplate(tpl)
	require.NoError(t, err)
	assert.Equal(t, EntityCase, req.Entity)
	assert.Equal(t, Filters{"status": "open"}, req.Filters)
	assert.Equal(t, welfare.TemplateID("t1"), *req.TemplateID)

	tpl.EntityType = "referral"
	_, err = RequestFromTemplate(tpl)
	assert.ErrorIs(t, err, welfare.ErrUnknownEntity)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Case Beneficiary Name", Humanize("case__beneficiary__name"))
	assert.Equal(t, "Max Annual Amount", Humanize("max_annual_amount"))
	assert.Equal(t, "Category Name", Humanize("category.name"))
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard_CaseManagerCountsOwnRecords(t *testing.T) {
	src := &fakeSource{counts: map[Entity]int64{
		EntityCase: 3, EntityBeneficiary: 40, EntityAssessment: 7,
	}}
	p := newTestPipeline(src)

	d, err := p.Dashboard(context.Background(), caseManager)

	require.NoError(t, err)
	assert.Equal(t, "Case Manager Dashboard", d.Title)
	assert.Equal(t, []Counter{
		{Label: "My Open Cases", Value: 3},
		{Label: "Beneficiaries", Value: 40},
		{Label: "My Assessments", Value: 7},
	}, d.Counters)

	assert.ElementsMatch(t, []Condition{
		{Column: "case_manager_id", Value: "cm-1"},
		{Column: "status", Value: "open"},
	}, src.queries[0].conds)
	assert.Empty(t, src.queries[1].conds)
	assert.Equal(t, []Condition{{Column: "created_by_id", Value: "cm-1"}}, src.queries[2].conds)
}

func TestDashboard_AdminSeesUsers(t *testing.T) {
	src := &fakeSource{counts: map[Entity]int64{EntityUser: 5}}
	d, err := newTestPipeline(src).Dashboard(context.Background(), admin)

	require.NoError(t, err)
	require.Len(t, d.Counters, 4)
	assert.Equal(t, Counter{Label: "Users", Value: 5}, d.Counters[0])
}

func TestDashboard_UnknownRole(t *testing.T) {
	_, err := newTestPipeline(&fakeSource{}).Dashboard(context.Background(), welfare.Principal{Role: "guest"})
	assert.ErrorIs(t, err, welfare.ErrUnknownRole)
}
