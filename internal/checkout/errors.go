package checkout

import "errors"

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidPayment     = errors.New("unsupported payment method")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrCheckoutFailed     = errors.New("checkout failed")
)
