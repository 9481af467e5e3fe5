/*
recorder.go - Assessment writes with promotion evaluation

PURPOSE:
  Recording or editing an assessment is the only event that moves a
  beneficiary. Recorder runs the whole unit:

    1. Validate input (ValidationError, before any store access)
    2. Within one transaction:
       a. Resolve case and beneficiary (NotFound aborts)
       b. Persist the assessment
       c. Evaluate category and program with an engine bound to the tx
       d. Apply promotions
    3. After commit, notify each promotion

  Any failure in step 2 rolls back everything, including the assessment.
  A failed notification is logged and does not fail the write.

CONCURRENCY:
  No locking beyond the store's transaction. Two writers racing on the
  same beneficiary resolve last-write-wins on the placement fields.

SEE ALSO:
  - engine.go: The rules
  - welfare/store.go: TxStore contract
*/
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/casework/notify"
	"github.com/warp/casework/welfare"
)

// =============================================================================
// INPUT
// =============================================================================

type AssessmentInput struct {
	Title          string
	Description    string
	CaseID         welfare.CaseID
	AmountReceived decimal.Decimal
	IncomeAmount   decimal.Decimal
	Year           int
}

const (
	minYear = 1900
	maxYear = 2100
)

// Validate checks the input for a new assessment.
func (in AssessmentInput) Validate() error {
	return in.validate(true)
}

func (in AssessmentInput) validate(requireCase bool) error {
	var errs welfare.ValidationErrors
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, &welfare.ValidationError{Field: "title", Message: "is required"})
	}
	if requireCase && in.CaseID == "" {
		errs = append(errs, &welfare.ValidationError{Field: "case", Message: "is required"})
	}
	if in.AmountReceived.IsNegative() {
		errs = append(errs, &welfare.ValidationError{Field: "amount_received", Message: "must not be negative"})
	}
	if in.IncomeAmount.IsNegative() {
		errs = append(errs, &welfare.ValidationError{Field: "income_amount", Message: "must not be negative"})
	}
	if in.Year < minYear || in.Year > maxYear {
		errs = append(errs, &welfare.ValidationError{
			Field:   "year",
			Message: fmt.Sprintf("must be between %d and %d", minYear, maxYear),
		})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Result is what a successful write returns to the caller.
type Result struct {
	Assessment welfare.Assessment
	Outcome    Outcome
}

// Messages returns one line per promotion that fired.
func (r Result) Messages() []string {
	var out []string
	for _, d := range r.Outcome.Promotions() {
		out = append(out, d.Message())
	}
	return out
}

// =============================================================================
// RECORDER
// =============================================================================

type Recorder struct {
	store    welfare.TxStore
	notifier notify.Notifier
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewRecorder(store welfare.TxStore, notifier notify.Notifier, logger *zap.Logger) *Recorder {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Record creates an assessment authored by actor and applies any promotion.
func (r *Recorder) Record(ctx context.Context, actor welfare.Principal, in AssessmentInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	a := welfare.Assessment{
		ID:             welfare.AssessmentID(r.newID()),
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		CaseID:         in.CaseID,
		CreatedByID:    actor.UserID,
		AmountReceived: in.AmountReceived,
		IncomeAmount:   in.IncomeAmount,
		Year:           in.Year,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return r.write(ctx, a, "created")
}

// Update edits an existing assessment and re-evaluates. The case an
// assessment belongs to cannot change.
func (r *Recorder) Update(ctx context.Context, actor welfare.Principal, id welfare.AssessmentID, in AssessmentInput) (*Result, error) {
	if err := in.validate(false); err != nil {
		return nil, err
	}

	existing, err := r.store.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.CaseID != "" && in.CaseID != existing.CaseID {
		return nil, &welfare.ValidationError{Field: "case", Message: "cannot be changed on an existing assessment"}
	}

	a := *existing
	a.Title = strings.TrimSpace(in.Title)
	a.Description = in.Description
	a.AmountReceived = in.AmountReceived
	a.IncomeAmount = in.IncomeAmount
	a.Year = in.Year
	a.UpdatedAt = r.now()

	r.logger.Debug("assessment edit",
		zap.String("assessment_id", string(id)),
		zap.String("actor", string(actor.UserID)))

	return r.write(ctx, a, "updated")
}

// DryRun evaluates a persisted assessment without applying anything.
func (r *Recorder) DryRun(ctx context.Context, id welfare.AssessmentID) (Outcome, error) {
	a, err := r.store.GetAssessment(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return NewEngine(r.store).Evaluate(ctx, *a)
}

func (r *Recorder) write(ctx context.Context, a welfare.Assessment, verb string) (*Result, error) {
	var outcome Outcome

	err := r.store.WithTx(ctx, func(tx welfare.Store) error {
		c, err := tx.GetCase(ctx, a.CaseID)
		if err != nil {
			return err
		}
		if _, err := tx.GetBeneficiary(ctx, c.BeneficiaryID); err != nil {
			return err
		}

		if err := tx.SaveAssessment(ctx, a); err != nil {
			return fmt.Errorf("%w: save assessment: %w", welfare.ErrPersistence, err)
		}

		outcome, err = NewEngine(tx).Evaluate(ctx, a)
		if err != nil {
			return err
		}

		if placement := outcome.Placement(); !placement.IsEmpty() {
			if err := tx.UpdatePlacement(ctx, c.BeneficiaryID, placement); err != nil {
				return fmt.Errorf("%w: apply promotion: %w", welfare.ErrPersistence, err)
			}
		}
		return nil
	})
	if err != nil {
		if !welfare.IsNotFound(err) && !errors.Is(err, welfare.ErrPersistence) {
			err = fmt.Errorf("%w: %w", welfare.ErrPersistence, err)
		}
		r.logger.Warn("assessment write rolled back",
			zap.String("assessment_id", string(a.ID)),
			zap.Error(err))
		return nil, err
	}

	r.logger.Info("assessment "+verb,
		zap.String("assessment_id", string(a.ID)),
		zap.String("case_id", string(a.CaseID)),
		zap.String("category_decision", string(outcome.Category.Reason)),
		zap.String("program_decision", string(outcome.Program.Reason)))

	r.announce(ctx, outcome)
	return &Result{Assessment: a, Outcome: outcome}, nil
}

func (r *Recorder) announce(ctx context.Context, o Outcome) {
	for _, d := range o.Promotions() {
		msg := notify.Message{
			Subject: string(d.Dimension) + "_promotion",
			Text:    d.Message(),
			At:      r.now(),
			Fields: map[string]string{
				"beneficiary_id":   string(d.Beneficiary.ID),
				"beneficiary_name": d.Beneficiary.Name,
				"from":             d.FromName(),
				"to":               d.ToName(),
			},
		}
		if err := r.notifier.Notify(ctx, msg); err != nil {
			r.logger.Warn("promotion notification failed",
				zap.String("beneficiary_id", string(d.Beneficiary.ID)),
				zap.Error(err))
		}
	}
}
