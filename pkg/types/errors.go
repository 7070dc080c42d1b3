package types

import "errors"

// Error kinds surfaced by the trading core. Call sites wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify via errors.Is while
// keeping the failing field in the message.
var (
	// ErrInvalidOrder marks a missing or out-of-range field, or an
	// unsupported enum value.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrSizeLimit marks a quantity outside the [min, max] order size bounds.
	ErrSizeLimit = errors.New("order size limit exceeded")

	// ErrUnsupportedCommodity marks a commodity outside the fixed set.
	ErrUnsupportedCommodity = errors.New("unsupported commodity")

	// ErrNotFound marks an unknown order id.
	ErrNotFound = errors.New("order not found")

	// ErrIllegalTransition marks a modify or cancel against a terminal order.
	ErrIllegalTransition = errors.New("illegal order transition")

	// ErrRejected marks a fill-or-kill that could not be fully filled, or a
	// modify whose changes fail revalidation.
	ErrRejected = errors.New("order rejected")

	// ErrMarketClosed marks an order submitted outside trading hours when
	// session enforcement is on.
	ErrMarketClosed = errors.New("market closed")
)
