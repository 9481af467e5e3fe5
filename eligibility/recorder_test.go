package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/casework/notify"
	"github.com/warp/casework/welfare"
	"github.com/warp/casework/welfare/store"
)

var caseManager = welfare.Principal{UserID: "cm-1", Role: welfare.RoleCaseManager}

type captured struct {
	msgs []notify.Message
	err  error
}

func (c *captured) Notify(_ context.Context, m notify.Message) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

// brokenPlacement fails every placement write inside a transaction.
type brokenPlacement struct {
	*store.TxMemory
}

func (b brokenPlacement) WithTx(ctx context.Context, fn func(welfare.Store) error) error {
	return b.TxMemory.WithTx(ctx, func(tx welfare.Store) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	welfare.Store
}

var errDiskIO = errors.New("disk I/O error")

func (failingTx) UpdatePlacement(context.Context, welfare.BeneficiaryID, welfare.PlacementUpdate) error {
	return errDiskIO
}

// lockedAssessments fails every assessment write inside a transaction.
type lockedAssessments struct {
	*store.TxMemory
}

var errLocked = errors.New("database is locked")

func (l lockedAssessments) WithTx(ctx context.Context, fn func(welfare.Store) error) error {
	return l.TxMemory.WithTx(ctx, func(tx welfare.Store) error {
		return fn(lockedTx{tx})
	})
}

type lockedTx struct {
	welfare.Store
}

func (lockedTx) SaveAssessment(context.Context, welfare.Assessment) error {
	return errLocked
}

func validInput(caseID welfare.CaseID) AssessmentInput {
	return AssessmentInput{
		Title:          "Intake",
		CaseID:         caseID,
		AmountReceived: amt("1000"),
		IncomeAmount:   amt("600000"),
		Year:           2025,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRecord_ValidationBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	rec := NewRecorder(f.store, nil, nil)

	tests := []struct {
		name  string
		mut   func(*AssessmentInput)
		field string
	}{
		{"missing title", func(in *AssessmentInput) { in.Title = "  " }, "title"},
		{"missing case", func(in *AssessmentInput) { in.CaseID = "" }, "case"},
		{"negative received", func(in *AssessmentInput) { in.AmountReceived = amt("-1") }, "amount_received"},
		{"negative income", func(in *AssessmentInput) { in.IncomeAmount = amt("-0.01") }, "income_amount"},
		{"year too early", func(in *AssessmentInput) { in.Year = 1899 }, "year"},
		{"year too late", func(in *AssessmentInput) { in.Year = 2101 }, "year"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("does-not-matter")
			tt.mut(&in)

			_, err := rec.Record(f.ctx, caseManager, in)

			require.Error(t, err)
			var ve *welfare.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.False(t, welfare.IsNotFound(err), "validation runs before lookup")
		})
	}
}

func TestRecord_MissingCaseIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := NewRecorder(f.store, nil, nil)

	_, err := rec.Record(f.ctx, caseManager, validInput("ghost"))

	assert.ErrorIs(t, err, welfare.ErrCaseNotFound)
	assert.NotErrorIs(t, err, welfare.ErrPersistence)
}

// =============================================================================
// RECORD
// =============================================================================

func TestRecord_AppliesPromotionsAndNotifies(t *testing.T) {
	// GIVEN: Categories, a P -> Q chain and a beneficiary on P
	f := newFixture(t)
	f.category(t, "c500", "500000")
	f.category(t, "c750", "750000")
	q := f.program(t, "Q", nil)
	p := f.program(t, "P", &q)
	caseID := f.beneficiary(t, "b1", nil, &p)

	sink := &captured{}
	rec := NewRecorder(f.store, sink, nil)

	// WHEN: Recording income 600000
	res, err := rec.Record(f.ctx, caseManager, validInput(caseID))

	// THEN: Both placements are persisted
	require.NoError(t, err)
	ben, err := f.store.GetBeneficiary(f.ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, ptr(welfare.CategoryID("c750")), ben.CategoryID)
	assert.Equal(t, ptr(welfare.ProgramID("Q")), ben.ProgramID)

	// AND: The assessment exists with the actor as author
	saved, err := f.store.GetAssessment(f.ctx, res.Assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, welfare.UserID("cm-1"), saved.CreatedByID)

	// AND: One message per promotion, category first
	assert.Equal(t, []string{
		"Beneficiary b1 has been assigned to category Category 750000",
		"Beneficiary b1 has been promoted from program Program P to Program Q",
	}, res.Messages())
	require.Len(t, sink.msgs, 2)
	assert.Equal(t, "category_promotion", sink.msgs[0].Subject)
	assert.Equal(t, "Program P", sink.msgs[1].Fields["from"])
	assert.Equal(t, "Program Q", sink.msgs[1].Fields["to"])
}

func TestRecord_ProgramChainOneHopPerWrite(t *testing.T) {
	f := newFixture(t)
	c := f.program(t, "C", nil)
	b := f.program(t, "B", &c)
	a := f.program(t, "A", &b)
	caseID := f.beneficiary(t, "b1", nil, &a)
	rec := NewRecorder(f.store, nil, nil)

	want := []welfare.ProgramID{"B", "C", "C"}
	for i, w := range want {
		_, err := rec.Record(f.ctx, caseManager, validInput(caseID))
		require.NoError(t, err)
		ben, err := f.store.GetBeneficiary(f.ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, w, *ben.ProgramID, "write %d", i)
	}
}

func TestRecord_NotificationFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.category(t, "c750", "750000")
	caseID := f.beneficiary(t, "b1", nil, nil)

	core, logs := observer.New(zap.WarnLevel)
	rec := NewRecorder(f.store, &captured{err: errors.New("bot blocked")}, zap.New(core))

	_, err := rec.Record(f.ctx, caseManager, validInput(caseID))

	require.NoError(t, err)
	ben, _ := f.store.GetBeneficiary(f.ctx, "b1")
	assert.Equal(t, ptr(welfare.CategoryID("c750")), ben.CategoryID)
	assert.Equal(t, 1, logs.FilterMessage("promotion notification failed").Len())
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestRecord_PlacementFailureRollsBackAssessment(t *testing.T) {
	// GIVEN: A store whose placement write always fails
	f := newFixture(t)
	f.category(t, "c750", "750000")
	caseID := f.beneficiary(t, "b1", nil, nil)
	sink := &captured{}
	rec := NewRecorder(brokenPlacement{f.store}, sink, nil)

	// WHEN: Recording an assessment that would promote
	res, err := rec.Record(f.ctx, caseManager, validInput(caseID))

	// THEN: The write fails as a persistence failure
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, welfare.ErrPersistence)
	assert.ErrorIs(t, err, errDiskIO, "the store's cause stays inspectable")
	assert.Equal(t, "persistence failure: apply promotion: disk I/O error", err.Error())

	// AND: Nothing was kept
	total, err := NewEngine(f.store).TotalAmountReceived(f.ctx, "b1")
	require.NoError(t, err)
	assert.True(t, total.IsZero(), "assessment rolled back, total %s", total)
	ben, _ := f.store.GetBeneficiary(f.ctx, "b1")
	assert.Nil(t, ben.CategoryID)

	// AND: No notification went out
	assert.Empty(t, sink.msgs)
}

func TestRecord_SaveFailureKeepsCause(t *testing.T) {
	// GIVEN: A store that rejects assessment writes
	f := newFixture(t)
	caseID := f.beneficiary(t, "b1", nil, nil)
	rec := NewRecorder(lockedAssessments{f.store}, &captured{}, nil)

	// WHEN: Recording an assessment
	_, err := rec.Record(f.ctx, caseManager, validInput(caseID))

	// THEN: Both the category and the cause match
	assert.ErrorIs(t, err, welfare.ErrPersistence)
	assert.ErrorIs(t, err, errLocked)
	assert.ErrorContains(t, err, "save assessment")
}

func TestRecord_NoPromotionSkipsPlacementWrite(t *testing.T) {
	// GIVEN: A failing placement write but nothing to promote
	f := newFixture(t)
	caseID := f.beneficiary(t, "b1", nil, nil)
	rec := NewRecorder(brokenPlacement{f.store}, nil, nil)

	// WHEN: Recording
	_, err := rec.Record(f.ctx, caseManager, validInput(caseID))

	// THEN: The placement write is never attempted
	require.NoError(t, err)
}

// =============================================================================
// UPDATE AND DRY RUN
// =============================================================================

func TestUpdate_ReevaluatesWithEditedAmounts(t *testing.T) {
	f := newFixture(t)
	current := f.category(t, "c500", "500000")
	f.category(t, "c750", "750000")
	caseID := f.beneficiary(t, "b1", &current, nil)
	rec := NewRecorder(f.store, nil, nil)

	in := validInput(caseID)
	in.IncomeAmount = amt("100000")
	res, err := rec.Record(f.ctx, caseManager, in)
	require.NoError(t, err)
	assert.Empty(t, res.Outcome.Promotions())

	in.CaseID = ""
	in.AmountReceived = amt("700000")
	res, err = rec.Update(f.ctx, caseManager, res.Assessment.ID, in)
	require.NoError(t, err)

	require.Len(t, res.Outcome.Promotions(), 1)
	assert.Equal(t, welfare.CategoryID("c750"), res.Outcome.Category.ToCategory.ID)
	assert.True(t, amt("700000").Equal(res.Outcome.Category.Total), "edit replaces, not adds")
	assert.Equal(t, caseID, res.Assessment.CaseID)
}

func TestUpdate_CannotMoveCase(t *testing.T) {
	f := newFixture(t)
	caseID := f.beneficiary(t, "b1", nil, nil)
	other := f.beneficiary(t, "b2", nil, nil)
	rec := NewRecorder(f.store, nil, nil)

	res, err := rec.Record(f.ctx, caseManager, validInput(caseID))
	require.NoError(t, err)

	_, err = rec.Update(f.ctx, caseManager, res.Assessment.ID, validInput(other))
	assert.True(t, welfare.IsValidation(err))
}

func TestUpdate_MissingAssessment(t *testing.T) {
	f := newFixture(t)
	rec := NewRecorder(f.store, nil, nil)

	in := validInput("")
	_, err := rec.Update(f.ctx, caseManager, "nope", in)
	assert.ErrorIs(t, err, welfare.ErrAssessmentNotFound)
}

func TestDryRun_DoesNotWrite(t *testing.T) {
	f := newFixture(t)
	f.category(t, "c750", "750000")
	caseID := f.beneficiary(t, "b1", nil, nil)
	a := f.assess(t, caseID, "0", "600000")
	rec := NewRecorder(f.store, nil, nil)

	o, err := rec.DryRun(f.ctx, a.ID)

	require.NoError(t, err)
	assert.True(t, o.Category.Promotes())
	ben, _ := f.store.GetBeneficiary(f.ctx, "b1")
	assert.Nil(t, ben.CategoryID)
}
