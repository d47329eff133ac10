package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by services, repositories and handlers.
var (
	// ErrNotFound covers unknown tokens and unknown campaign/target/template
	// ids. Callers must not distinguish "never existed" from "expired".
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is returned when a client/trigger budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrTemplateInvalid wraps template validation failures.
	ErrTemplateInvalid = errors.New("invalid template")

	// ErrInvalidTransition is returned for lifecycle moves the campaign
	// state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Launch precondition identifiers reported by PreconditionError.
const (
	ConditionNotDraft           = "not_draft"
	ConditionNoPendingTargets   = "no_pending_targets"
	ConditionConsentNotVerified = "consent_not_verified"
)

// PreconditionError reports which dispatch precondition failed. No side
// effects have happened when it is returned.
type PreconditionError struct {
	Condition string
	Detail    string
}

func (e *PreconditionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("precondition failed: %s", e.Condition)
	}
	return fmt.Sprintf("precondition failed: %s: %s", e.Condition, e.Detail)
}

// IsPrecondition reports whether err is a PreconditionError and returns it.
func IsPrecondition(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
