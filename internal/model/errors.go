package model

import "errors"

// Boundary error kinds. Callers match on these with
// errors.Is; internal packages wrap them with %w for context.
var (
	ErrDuplicateID               = errors.New("duplicate order id")
	ErrNotFound                  = errors.New("order not found")
	ErrZeroQuantity              = errors.New("zero quantity")
	ErrInvalidIceberg            = errors.New("invalid iceberg: visible quantity exceeds total")
	ErrFOKUnfillable             = errors.New("fill-or-kill order cannot be filled in full")
	ErrExpired                   = errors.New("order expired")
	ErrCorruptSnapshot           = errors.New("corrupt snapshot")
	ErrVersionMismatch           = errors.New("snapshot format version mismatch")
	ErrPriceOutOfArbitrageBounds = errors.New("option price outside arbitrage bounds")
	ErrIlliquidReject            = errors.New("book too illiquid to solve for implied volatility")
	ErrNonConvergent             = errors.New("implied volatility solve did not converge")
)
