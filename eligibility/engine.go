/*
Package eligibility decides when a beneficiary moves to a higher category or
along the program chain.

PURPOSE:
  After every assessment write the engine re-evaluates the owning
  beneficiary on two independent dimensions:

  CATEGORY (monetary ceiling):
    - Unassigned: pick the category with the smallest MaxAnnualAmount that
      is >= the assessment's income. Cumulative disbursement is not used.
    - Assigned: nothing to do while income and cumulative total both fit
      under the current ceiling. Otherwise pick the smallest ceiling that is
      above the current one and >= max(income, total).
    - No qualifying category is a stable fixed point, not an error.

  PROGRAM (successor chain):
    - A beneficiary on a program with a successor moves one hop along the
      chain on every assessment write. There is no threshold.
    - No program, or no successor, is a stable fixed point.

MONOTONICITY:
  The category rule only ever selects a strictly higher ceiling than the
  one held, so repeated evaluation never downgrades.

EVALUATE vs APPLY:
  The engine only reads. Recorder applies decisions inside the same
  transaction as the assessment write.

EXAMPLE:
  engine := eligibility.NewEngine(store)
  outcome, err := engine.Evaluate(ctx, assessment)
  for _, d := range outcome.Promotions() {
      fmt.Println(d.Message())
  }

SEE ALSO:
  - decision.go: Decision / Outcome types
  - chain.go: ProgramGraph
  - recorder.go: Transactional write + apply + notify
*/
package eligibility

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/casework/welfare"
)

// Engine evaluates promotions against a Reader. Bind it to a transactional
// view to see the assessment currently being written.
type Engine struct {
	Reader welfare.Reader
}

func NewEngine(r welfare.Reader) *Engine {
	return &Engine{Reader: r}
}

// TotalAmountReceived sums AmountReceived over every assessment of every case
// the beneficiary has ever had. Zero for no history.
func (e *Engine) TotalAmountReceived(ctx context.Context, id welfare.BeneficiaryID) (decimal.Decimal, error) {
	total, err := e.Reader.SumAmountReceived(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amount received for %s: %w", id, err)
	}
	return total, nil
}

// Evaluate runs both dimensions for one assessment.
func (e *Engine) Evaluate(ctx context.Context, a welfare.Assessment) (Outcome, error) {
	cat, err := e.EvaluateCategoryPromotion(ctx, a)
	if err != nil {
		return Outcome{}, err
	}
	prog, err := e.EvaluateProgramPromotion(ctx, a)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Category: cat, Program: prog}, nil
}

// EvaluateCategoryPromotion applies the least-sufficient category rule.
// The assessment must already be persisted so the total includes it.
func (e *Engine) EvaluateCategoryPromotion(ctx context.Context, a welfare.Assessment) (Decision, error) {
	ben, err := e.beneficiaryOf(ctx, a)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Dimension:   DimensionCategory,
		Kind:        KindNoChange,
		Beneficiary: *ben,
		Income:      a.IncomeAmount,
	}

	if ben.CategoryID == nil {
		income := a.IncomeAmount
		candidates, err := e.Reader.ListCategories(ctx, welfare.CategoryFilter{AtLeast: &income})
		if err != nil {
			return Decision{}, fmt.Errorf("list categories: %w", err)
		}
		if len(candidates) == 0 {
			d.Reason = ReasonNoQualifyingCategory
			return d, nil
		}
		d.Kind = KindPromote
		d.Reason = ReasonFirstAssignment
		d.ToCategory = &candidates[0]
		return d, nil
	}

	current, err := e.Reader.GetCategory(ctx, *ben.CategoryID)
	if err != nil {
		return Decision{}, fmt.Errorf("current category of %s: %w", ben.ID, err)
	}
	d.FromCategory = current

	total, err := e.TotalAmountReceived(ctx, ben.ID)
	if err != nil {
		return Decision{}, err
	}
	d.Total = total

	ceiling := current.MaxAnnualAmount
	if a.IncomeAmount.LessThanOrEqual(ceiling) && total.LessThanOrEqual(ceiling) {
		d.Reason = ReasonWithinCeiling
		return d, nil
	}

	need := decimal.Max(a.IncomeAmount, total)
	candidates, err := e.Reader.ListCategories(ctx, welfare.CategoryFilter{
		AtLeast: &need,
		Above:   &ceiling,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("list categories: %w", err)
	}
	if len(candidates) == 0 {
		// Over the ceiling with nowhere to go. Deliberately not capped to the
		// highest category.
		d.Reason = ReasonNoQualifyingCategory
		return d, nil
	}

	d.Kind = KindPromote
	d.Reason = ReasonExceedsCeiling
	d.ToCategory = &candidates[0]
	return d, nil
}

// EvaluateProgramPromotion moves the beneficiary one hop along the program
// chain. Any assessment write triggers it; there is no threshold.
func (e *Engine) EvaluateProgramPromotion(ctx context.Context, a welfare.Assessment) (Decision, error) {
	ben, err := e.beneficiaryOf(ctx, a)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Dimension:   DimensionProgram,
		Kind:        KindNoChange,
		Beneficiary: *ben,
	}

	if ben.ProgramID == nil {
		d.Reason = ReasonNoProgram
		return d, nil
	}

	programs, err := e.Reader.ListPrograms(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("list programs: %w", err)
	}
	graph := NewProgramGraph(programs)

	current, ok := graph.Program(*ben.ProgramID)
	if !ok {
		return Decision{}, fmt.Errorf("current program of %s: %w", ben.ID, welfare.ErrProgramNotFound)
	}
	d.FromProgram = &current

	next, ok := graph.Successor(current.ID)
	if !ok {
		d.Reason = ReasonNoSuccessor
		return d, nil
	}

	d.Kind = KindPromote
	d.Reason = ReasonSuccessor
	d.ToProgram = &next
	return d, nil
}

func (e *Engine) beneficiaryOf(ctx context.Context, a welfare.Assessment) (*welfare.Beneficiary, error) {
	c, err := e.Reader.GetCase(ctx, a.CaseID)
	if err != nil {
		return nil, fmt.Errorf("case of assessment %s: %w", a.ID, err)
	}
	ben, err := e.Reader.GetBeneficiary(ctx, c.BeneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("beneficiary of case %s: %w", c.ID, err)
	}
	return ben, nil
}
