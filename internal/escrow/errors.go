package escrow

import "errors"

// Validation and state errors surfaced synchronously to callers. Handlers
// map these to HTTP codes; anything else aborts the enclosing transaction.
var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidTier           = errors.New("invalid price tier")
	ErrSellerNotPayable      = errors.New("seller does not have a valid payout account")
	ErrPaymentNotProcessable = errors.New("payment cannot be processed")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAlreadyReleased       = errors.New("funds have already been released")
	ErrNotDisputed           = errors.New("order is not in a disputed state")
)
