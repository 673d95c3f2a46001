package order

import (
	"errors"
	"fmt"

	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
)

var (
	ErrOrderNotFound = apperr.NotFound("Order not found")
	ErrItemNotFound  = apperr.NotFound("Order item not found")
	ErrInvalidStatus = apperr.Validation("Invalid status")
	ErrNotCancelable = apperr.Conflict("Only PENDING orders can be cancelled")
	ErrNotShippable  = apperr.Conflict("Order is not ready for shipping")
	ErrForbidden     = apperr.Forbidden("Forbidden")
)

// ClassifyLookup maps a repository read failure.
func ClassifyLookup(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, ErrOrderNotFound.Message)
	}
	return apperr.Internal(fmt.Errorf("order repository: %w", err))
}

// ClassifyTransition maps state machine and compare-and-set failures. An
// unknown source state is a validation problem; a disallowed edge or a lost
// race is a conflict.
func ClassifyTransition(err error) error {
	var te *domain.TransitionError
	switch {
	case errors.As(err, &te) && errors.Is(err, domain.ErrInvalidState):
		return apperr.Wrap(apperr.KindValidation, err, te.Error())
	case errors.As(err, &te):
		return apperr.Wrap(apperr.KindConflict, err, te.Error())
	case errors.Is(err, domain.ErrStaleStatus):
		return apperr.Wrap(apperr.KindConflict, err, "Order status changed concurrently")
	case errors.Is(err, domain.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, ErrOrderNotFound.Message)
	default:
		return apperr.Internal(fmt.Errorf("order repository: %w", err))
	}
}
