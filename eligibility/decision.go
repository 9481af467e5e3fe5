package eligibility

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/casework/welfare"
)

// Dimension is the placement axis a decision is about. Category and program
// are evaluated independently on every assessment write.
type Dimension string

const (
	DimensionCategory Dimension = "category"
	DimensionProgram  Dimension = "program"
)

type Kind string

const (
	KindNoChange Kind = "no_change"
	KindPromote  Kind = "promote"
)

// Reason explains a decision. Used in logs and API responses.
type Reason string

const (
	ReasonFirstAssignment      Reason = "first_assignment"
	ReasonWithinCeiling        Reason = "within_ceiling"
	ReasonExceedsCeiling       Reason = "exceeds_ceiling"
	ReasonNoQualifyingCategory Reason = "no_qualifying_category"
	ReasonNoProgram            Reason = "no_program"
	ReasonSuccessor            Reason = "successor"
	ReasonNoSuccessor          Reason = "no_successor"
)

// Decision is the result of evaluating one dimension. Evaluating never
// writes; see Recorder for applying.
type Decision struct {
	Dimension   Dimension
	Kind        Kind
	Reason      Reason
	Beneficiary welfare.Beneficiary

	FromCategory *welfare.Category
	ToCategory   *welfare.Category
	FromProgram  *welfare.Program
	ToProgram    *welfare.Program

	// Inputs the category rule looked at. Zero for program decisions.
	Income decimal.Decimal
	Total  decimal.Decimal
}

func (d Decision) Promotes() bool { return d.Kind == KindPromote }

// Placement returns the write needed to apply d. Empty for no-change.
func (d Decision) Placement() welfare.PlacementUpdate {
	if !d.Promotes() {
		return welfare.PlacementUpdate{}
	}
	switch d.Dimension {
	case DimensionCategory:
		id := d.ToCategory.ID
		return welfare.PlacementUpdate{CategoryID: &id}
	case DimensionProgram:
		id := d.ToProgram.ID
		return welfare.PlacementUpdate{ProgramID: &id}
	}
	return welfare.PlacementUpdate{}
}

// FromName is the name of the placement before the decision, "" if none.
func (d Decision) FromName() string {
	switch {
	case d.Dimension == DimensionCategory && d.FromCategory != nil:
		return d.FromCategory.Name
	case d.Dimension == DimensionProgram && d.FromProgram != nil:
		return d.FromProgram.Name
	}
	return ""
}

// ToName is the name of the placement after a promotion, "" otherwise.
func (d Decision) ToName() string {
	switch {
	case d.Dimension == DimensionCategory && d.ToCategory != nil:
		return d.ToCategory.Name
	case d.Dimension == DimensionProgram && d.ToProgram != nil:
		return d.ToProgram.Name
	}
	return ""
}

// Message is the human-readable outcome for notifications.
func (d Decision) Message() string {
	name := d.Beneficiary.Name
	if !d.Promotes() {
		return fmt.Sprintf("%s: no %s change (%s)", name, d.Dimension, d.Reason)
	}
	if d.FromName() == "" {
		return fmt.Sprintf("%s has been assigned to %s %s", name, d.Dimension, d.ToName())
	}
	return fmt.Sprintf("%s has been promoted from %s %s to %s", name, d.Dimension, d.FromName(), d.ToName())
}

// Outcome holds both decisions for one assessment write.
type Outcome struct {
	Category Decision
	Program  Decision
}

// Promotions returns the decisions that fire, category first.
func (o Outcome) Promotions() []Decision {
	var out []Decision
	if o.Category.Promotes() {
		out = append(out, o.Category)
	}
	if o.Program.Promotes() {
		out = append(out, o.Program)
	}
	return out
}

// Placement merges the writes of both decisions.
func (o Outcome) Placement() welfare.PlacementUpdate {
	return welfare.PlacementUpdate{
		CategoryID: o.Category.Placement().CategoryID,
		ProgramID:  o.Program.Placement().ProgramID,
	}
}
