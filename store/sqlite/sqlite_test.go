package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/report"
	"github.com/warp/casework/welfare"
)

var (
	t0  = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	ctx = context.Background()
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

// seedWorld loads two users, three categories, a two-step program chain,
// one beneficiary in c500 / p1 with one case.
func seedWorld(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.WithTx(ctx, func(tx welfare.Store) error {
		for _, u := range []welfare.User{
			{ID: "cm-1", Username: "casey", Email: "casey@example.org", Role: welfare.RoleCaseManager, CreatedAt: t0},
			{ID: "fo-1", Username: "fola", Role: welfare.RoleFieldOfficer, CreatedAt: t0},
		} {
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		for _, c := range []welfare.Category{
			{ID: "c500", Name: "Category 1", MaxAnnualAmount: amt("500000"), CreatedAt: t0},
			{ID: "c750", Name: "Category 2", MaxAnnualAmount: amt("750000"), CreatedAt: t0},
			{ID: "c1000", Name: "Category 3", MaxAnnualAmount: amt("1000000"), CreatedAt: t0},
		} {
			if err := tx.SaveCategory(ctx, c); err != nil {
				return err
			}
		}
		// p1 names p2 before p2 exists; the successor key is deferred.
		if err := tx.SaveProgram(ctx, welfare.Program{ID: "p1", Name: "Starter", MonthlyAmount: amt("10000"), NextProgramID: ptr(welfare.ProgramID("p2")), CreatedAt: t0}); err != nil {
			return err
		}
		if err := tx.SaveProgram(ctx, welfare.Program{ID: "p2", Name: "Growth", MonthlyAmount: amt("20000"), CreatedAt: t0}); err != nil {
			return err
		}
		if err := tx.SaveBeneficiary(ctx, welfare.Beneficiary{
			ID: "b1", Name: "Amina", Gender: welfare.GenderFemale,
			DateOfBirth: time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC),
			CategoryID:  ptr(welfare.CategoryID("c500")), ProgramID: ptr(welfare.ProgramID("p1")),
			CreatedAt: t0, UpdatedAt: t0,
		}); err != nil {
			return err
		}
		return tx.SaveCase(ctx, welfare.Case{
			ID: "case-1", Title: "Intake", BeneficiaryID: "b1", CaseManagerID: "cm-1",
			Status: welfare.CaseOpen, OpenedAt: t0, CreatedAt: t0,
		})
	}))
}

func TestStore_RoundTrip(t *testing.T) {
	// GIVEN a seeded store
	s := newStore(t)
	seedWorld(t, s)

	// THEN every record reads back as written
	u, err := s.FindUserByUsername(ctx, "casey")
	require.NoError(t, err)
	assert.Equal(t, welfare.RoleCaseManager, u.Role)
	assert.True(t, t0.Equal(u.CreatedAt))

	c, err := s.GetCategory(ctx, "c750")
	require.NoError(t, err)
	assert.True(t, amt("750000").Equal(c.MaxAnnualAmount))

	p, err := s.GetProgram(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p.NextProgramID)
	assert.Equal(t, welfare.ProgramID("p2"), *p.NextProgramID)

	b, err := s.GetBeneficiary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "1990-04-02", b.DateOfBirth.Format(time.DateOnly))
	assert.Equal(t, welfare.CategoryID("c500"), *b.CategoryID)

	cs, err := s.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, welfare.CaseOpen, cs.Status)
	assert.Nil(t, cs.ClosedAt)
}

func TestStore_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrUserNotFound)
	_, err = s.GetCategory(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrCategoryNotFound)
	_, err = s.GetProgram(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrProgramNotFound)
	_, err = s.GetBeneficiary(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrBeneficiaryNotFound)
	_, err = s.GetCase(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrCaseNotFound)
	_, err = s.GetAssessment(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrAssessmentNotFound)
	_, err = s.GetTemplate(ctx, "nope")
	assert.ErrorIs(t, err, welfare.ErrTemplateNotFound)

	err = s.UpdatePlacement(ctx, "nope", welfare.PlacementUpdate{CategoryID: ptr(welfare.CategoryID("c1"))})
	assert.ErrorIs(t, err, welfare.ErrBeneficiaryNotFound)
}

func TestStore_ListCategoriesOrderedByCeiling(t *testing.T) {
	// GIVEN ceilings whose text order differs from numeric order
	s := newStore(t)
	seedWorld(t, s)
	require.NoError(t, s.SaveCategory(ctx, welfare.Category{ID: "c90", Name: "Small", MaxAnnualAmount: amt("90000"), CreatedAt: t0}))

	// WHEN listing categories of at least 500000
	got, err := s.ListCategories(ctx, welfare.CategoryFilter{AtLeast: ptr(amt("500000"))})
	require.NoError(t, err)

	// THEN they come back by numeric ceiling
	var ids []welfare.CategoryID
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []welfare.CategoryID{"c500", "c750", "c1000"}, ids)

	// AND Above is strict
	got, err = s.ListCategories(ctx, welfare.CategoryFilter{Above: ptr(amt("750000"))})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, welfare.CategoryID("c1000"), got[0].ID)
}

func TestStore_SumAmountReceivedAcrossCases(t *testing.T) {
	s := newStore(t)
	seedWorld(t, s)

	total, err := s.SumAmountReceived(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	require.NoError(t, s.SaveCase(ctx, welfare.Case{ID: "case-2", Title: "Follow up", BeneficiaryID: "b1", CaseManagerID: "cm-1", Status: welfare.CaseOpen, OpenedAt: t0, CreatedAt: t0}))
	for i, v := range []struct {
		caseID welfare.CaseID
		amount string
	}{{"case-1", "100000.10"}, {"case-2", "250000.25"}} {
		require.NoError(t, s.SaveAssessment(ctx, welfare.Assessment{
			ID: welfare.AssessmentID([]string{"a1", "a2"}[i]), Title: "Q", CaseID: v.caseID, CreatedByID: "fo-1",
			AmountReceived: amt(v.amount), IncomeAmount: amt("0"), Year: 2025, CreatedAt: t0, UpdatedAt: t0,
		}))
	}

	total, err = s.SumAmountReceived(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "350000.35", total.String())
}

func TestStore_WithTxRollsBack(t *testing.T) {
	// GIVEN a transaction that writes then fails
	s := newStore(t)
	seedWorld(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx welfare.Store) error {
		if err := tx.UpdatePlacement(ctx, "b1", welfare.PlacementUpdate{CategoryID: ptr(welfare.CategoryID("c1000"))}); err != nil {
			return err
		}
		return boom
	})

	// THEN the error surfaces and the placement is unchanged
	assert.ErrorIs(t, err, boom)
	b, err := s.GetBeneficiary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, welfare.CategoryID("c500"), *b.CategoryID)
}

func TestStore_UpdatePlacementLeavesNilFields(t *testing.T) {
	s := newStore(t)
	seedWorld(t, s)

	require.NoError(t, s.UpdatePlacement(ctx, "b1", welfare.PlacementUpdate{ProgramID: ptr(welfare.ProgramID("p2"))}))

	b, err := s.GetBeneficiary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, welfare.CategoryID("c500"), *b.CategoryID)
	assert.Equal(t, welfare.ProgramID("p2"), *b.ProgramID)
}

func TestStore_TemplatesAndReports(t *testing.T) {
	s := newStore(t)
	seedWorld(t, s)

	tpl := welfare.ReportTemplate{
		ID: "tpl-1", Name: "Open cases", EntityType: "case",
		Fields:      []string{"title", "beneficiary__name"},
		Filters:     map[string]string{"status": "open"},
		CreatedByID: "cm-1", CreatedAt: t0,
	}
	require.NoError(t, s.SaveTemplate(ctx, tpl))

	got, err := s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, tpl.Fields, got.Fields)
	assert.Equal(t, tpl.Filters, got.Filters)

	for i, by := range []welfare.UserID{"cm-1", "fo-1"} {
		require.NoError(t, s.SaveReport(ctx, welfare.Report{
			ID: welfare.ReportID([]string{"r1", "r2"}[i]), TemplateID: ptr(tpl.ID), Name: "Open cases",
			EntityType: "case", Fields: tpl.Fields, Format: "csv", RowCount: 3,
			GeneratedByID: by, GeneratedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.ListReports(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, welfare.ReportID("r2"), all[0].ID, "newest first")
	assert.Equal(t, map[string]string{}, all[0].Filters)

	mine, err := s.ListReports(ctx, ptr(welfare.UserID("cm-1")))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, tpl.ID, *mine[0].TemplateID)
}

func TestRecorder_OnSQLite(t *testing.T) {
	// GIVEN Amina in Category 1 on Starter
	s := newStore(t)
	seedWorld(t, s)
	rec := eligibility.NewRecorder(s, nil, nil)

	// WHEN an assessment pushes her total past 500000
	res, err := rec.Record(ctx, welfare.Principal{UserID: "fo-1", Role: welfare.RoleFieldOfficer}, eligibility.AssessmentInput{
		Title: "Q1", CaseID: "case-1", AmountReceived: amt("600000"), IncomeAmount: amt("0"), Year: 2025,
	})
	require.NoError(t, err)

	// THEN both dimensions move and the assessment is persisted
	assert.Len(t, res.Outcome.Promotions(), 2)
	b, err := s.GetBeneficiary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, welfare.CategoryID("c750"), *b.CategoryID)
	assert.Equal(t, welfare.ProgramID("p2"), *b.ProgramID)

	a, err := s.GetAssessment(ctx, res.Assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, welfare.UserID("fo-1"), a.CreatedByID)
}

func TestReportSource_FiltersAndPreloads(t *testing.T) {
	// GIVEN a seeded store and a second beneficiary without placement
	s := newStore(t)
	seedWorld(t, s)
	require.NoError(t, s.SaveBeneficiary(ctx, welfare.Beneficiary{ID: "b2", Name: "Baraka", Gender: welfare.GenderMale, CreatedAt: t0, UpdatedAt: t0}))

	src, err := s.ReportSource(nil)
	require.NoError(t, err)

	// WHEN querying beneficiaries ordered by name
	rows, err := src.Query(ctx, report.EntityBeneficiary, nil, "name")
	require.NoError(t, err)

	// THEN references are loaded where present and nil otherwise
	require.Len(t, rows, 2)
	amina := rows[0].(*welfare.Beneficiary)
	assert.Equal(t, "Amina", amina.Name)
	require.NotNil(t, amina.Category)
	assert.Equal(t, "Category 1", amina.Category.Name)
	require.NotNil(t, amina.Program)
	require.NotNil(t, amina.Program.NextProgram)
	assert.Equal(t, "Growth", amina.Program.NextProgram.Name)

	baraka := rows[1].(*welfare.Beneficiary)
	assert.Nil(t, baraka.Category)
	assert.True(t, baraka.DateOfBirth.IsZero())

	// AND conditions narrow the result
	rows, err = src.Query(ctx, report.EntityBeneficiary, []report.Condition{
		{Column: "date_of_birth", Value: "1990-04-02T00:00:00Z"},
	}, "name")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	n, err := src.Count(ctx, report.EntityBeneficiary, []report.Condition{{Column: "gender", Value: "male"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReportSource_FiltersNarrowOnEveryKind(t *testing.T) {
	// GIVEN the seeded world plus one assessment on Amina's case
	s := newStore(t)
	seedWorld(t, s)
	require.NoError(t, s.SaveAssessment(ctx, welfare.Assessment{
		ID: "a1", Title: "Visit", CaseID: "case-1", CreatedByID: "fo-1",
		AmountReceived: amt("350000.35"), IncomeAmount: amt("0"), Year: 2024,
		CreatedAt: t0, UpdatedAt: t0,
	}))

	src, err := s.ReportSource(nil)
	require.NoError(t, err)
	p := report.NewPipeline(src, nil)

	tests := []struct {
		name    string
		entity  report.Entity
		filters report.Filters
		want    int
	}{
		{"decimal canonical", report.EntityCategory, report.Filters{"max_annual_amount": "500000"}, 1},
		{"decimal with trailing zeros", report.EntityCategory, report.Filters{"max_annual_amount": "500000.00"}, 1},
		{"decimal no match", report.EntityCategory, report.Filters{"max_annual_amount": "600000"}, 0},
		{"fractional decimal", report.EntityAssessment, report.Filters{"amount_received": "350000.350"}, 1},
		{"timestamp", report.EntityCategory, report.Filters{"created_at": "2025-01-15T09:00:00Z"}, 3},
		{"timestamp in another offset", report.EntityCategory, report.Filters{"created_at": "2025-01-15T10:00:00+01:00"}, 3},
		{"timestamp no match", report.EntityCategory, report.Filters{"created_at": "2024-01-01T00:00:00Z"}, 0},
		{"case opened on", report.EntityCase, report.Filters{"opened_at": "2025-01-15T09:00:00Z"}, 1},
		{"free text no match", report.EntityBeneficiary, report.Filters{"address": "nowhere"}, 0},
		{"reference path no match", report.EntityBeneficiary, report.Filters{"category__name": "Category 3"}, 0},
		{"reference path", report.EntityBeneficiary, report.Filters{"category__name": "Category 1"}, 1},
		{"two hops", report.EntityBeneficiary, report.Filters{"program__next_program__name": "Growth"}, 1},
		{"path ending on a reference", report.EntityCase, report.Filters{"beneficiary__category": "c500"}, 1},
		{"three hops", report.EntityAssessment, report.Filters{"case__beneficiary__category__name": "Category 1"}, 1},
		{"three hops no match", report.EntityAssessment, report.Filters{"case__beneficiary__category__name": "Category 2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := p.ResolveRows(ctx, tt.entity, tt.filters)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}

	// AND dashboards count through the same conditions
	n, err := src.Count(ctx, report.EntityBeneficiary, []report.Condition{{
		Via:    []report.Hop{{Column: "category_id", Table: "categories"}},
		Column: "name",
		Value:  "Category 1",
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReportSource_PipelineScopesCases(t *testing.T) {
	// GIVEN a case managed by someone else
	s := newStore(t)
	seedWorld(t, s)
	require.NoError(t, s.SaveUser(ctx, welfare.User{ID: "cm-2", Username: "other", Role: welfare.RoleCaseManager, CreatedAt: t0}))
	require.NoError(t, s.SaveCase(ctx, welfare.Case{ID: "case-2", Title: "Elsewhere", BeneficiaryID: "b1", CaseManagerID: "cm-2", Status: welfare.CaseOpen, OpenedAt: t0, CreatedAt: t0}))

	src, err := s.ReportSource(nil)
	require.NoError(t, err)
	p := report.NewPipeline(src, nil)

	// WHEN casey generates a case report
	tbl, err := p.Generate(ctx, welfare.Principal{UserID: "cm-1", Role: welfare.RoleCaseManager}, report.Request{
		Entity: report.EntityCase,
		Fields: []string{"title", "beneficiary__category__name", "case_manager__username"},
	})
	require.NoError(t, err)

	// THEN only casey's case is listed, with nested references resolved
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, report.Row{"Intake", "Category 1", "casey"}, tbl.Rows[0])
	assert.Equal(t, "casey", tbl.GeneratedBy)
}

func TestReportSource_UnknownEntity(t *testing.T) {
	s := newStore(t)
	src, err := s.ReportSource(nil)
	require.NoError(t, err)

	_, err = src.Query(ctx, report.Entity("invoice"), nil, "")
	assert.ErrorIs(t, err, welfare.ErrUnknownEntity)
	_, err = src.Count(ctx, report.Entity("invoice"), nil)
	assert.ErrorIs(t, err, welfare.ErrUnknownEntity)
}
