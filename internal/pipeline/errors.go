package pipeline

import (
	"errors"
	"fmt"
)

// ErrDuplicateDeal is returned when a deal already exists for a listing.
var ErrDuplicateDeal = errors.New("deal already exists for listing")

// NotFoundError reports an unknown deal, task or target id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError reports a stage change the lifecycle does not allow.
// The deal is left unchanged.
type InvalidTransitionError struct {
	DealID string
	From   Stage
	To     Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("deal %s: cannot move from %s to %s", e.DealID, e.From, e.To)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
