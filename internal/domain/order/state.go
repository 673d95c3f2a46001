package order

import "fmt"

// transitions is the complete lifecycle table. Terminal states map to an
// empty set.
var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusPaid:      {},
		StatusCancelled: {},
	},
	StatusPaid: {
		StatusPartiallyShipped: {},
		StatusShipped:          {},
		StatusCancelled:        {},
		StatusRefunded:         {},
	},
	StatusPartiallyShipped: {
		StatusShipped:  {},
		StatusRefunded: {},
	},
	StatusShipped: {
		StatusRefunded: {},
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// TransitionError names the rejected edge.
type TransitionError struct {
	From, To Status
	Err      error
}

func (e *TransitionError) Error() string {
	if e.Err == ErrInvalidState {
		return fmt.Sprintf("Invalid current order status: %s", e.From)
	}
	return fmt.Sprintf("Cannot transition order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// AssertTransition is the single authority on status changes. An unknown
// source wraps ErrInvalidState; a target outside the table wraps
// ErrInvalidTransition.
func AssertTransition(from, to Status) error {
	allowed, ok := transitions[from]
	if !ok {
		return &TransitionError{From: from, To: to, Err: ErrInvalidState}
	}
	if _, ok := allowed[to]; !ok {
		return &TransitionError{From: from, To: to, Err: ErrInvalidTransition}
	}
	return nil
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}
