package settle

import "errors"

// Settlement error taxonomy. Precondition failures are detected before any
// mutation, so a returned error means no state changed.
var (
	// ErrUserNotFound means the acting user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrOrderNotFound means the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNoHolding means the user holds none of the asset.
	ErrNoHolding = errors.New("no holding for asset")

	// ErrInsufficientFunds means the user's cash balance cannot cover the
	// required debit or reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings means the user's holding cannot cover the
	// required debit or reservation.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrInvalidState means the order is not pending, is the wrong type for
	// the fill, or belongs to the acting user.
	ErrInvalidState = errors.New("order not in a fillable or cancellable state")

	// ErrPriceUnavailable means the price cache is cold for the asset; a
	// hard error for market orders.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInvalidArgument means a non-positive amount or price was supplied.
	ErrInvalidArgument = errors.New("invalid argument")
)
