/*
errors.go - Centralized error types for the casework domain

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers wrap these with context and test them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Not found - A referenced record does not exist
  2. Validation - Input rejected before any store access
  3. Persistence - A write failed and the enclosing transaction rolled back
  4. Access - Unknown role or entity type in a report request

NOT ERRORS:
  "No qualifying category" and "no successor program" are defined no-change
  outcomes of an evaluation. They never surface here.

SEE ALSO:
  - eligibility/recorder.go: Wraps store failures with ErrPersistence
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package welfare

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrProgramNotFound     = errors.New("program not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrCaseNotFound        = errors.New("case not found")
	ErrAssessmentNotFound  = errors.New("assessment not found")
	ErrTemplateNotFound    = errors.New("report template not found")

	// ErrPersistence marks a failed write. The enclosing transaction,
	// including the assessment itself, has been rolled back.
	ErrPersistence = errors.New("persistence failure")

	// ErrProgramCycle is returned when a program chain loops back on itself.
	ErrProgramCycle = errors.New("program chain contains a cycle")

	// ErrDanglingSuccessor is returned when next_program points nowhere.
	ErrDanglingSuccessor = errors.New("program successor does not exist")

	ErrUnknownRole   = errors.New("unknown role")
	ErrUnknownEntity = errors.New("unknown entity type")
	ErrUnknownFormat = errors.New("unknown export format")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed input caught before the engine runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one input.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", es[0].Error(), len(es)-1)
}

// Unwrap exposes the individual errors to errors.As.
func (es ValidationErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// CycleError names the program where a chain walk returned to itself.
type CycleError struct {
	Start ProgramID
	Path  []ProgramID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("program chain from %s loops: %v", e.Start, e.Path)
}

func (e *CycleError) Unwrap() error {
	return ErrProgramCycle
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrBeneficiaryNotFound) ||
		errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrAssessmentNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

// IsValidation returns true if the error came from input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return IsValidation(err) ||
		errors.Is(err, ErrUnknownRole) ||
		errors.Is(err, ErrUnknownEntity) ||
		errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrProgramCycle) ||
		errors.Is(err, ErrDanglingSuccessor)
}
