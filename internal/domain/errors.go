package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotActive         = errors.New("not active")
	ErrEnded             = errors.New("ended")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBidTooLow         = errors.New("bid too low")
	ErrNotWinner         = errors.New("not the winning bidder")
	ErrVoucherInvalid    = errors.New("voucher invalid")
	ErrValidationFailed  = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrNotActive, "NOT_ACTIVE"},
	{ErrEnded, "ENDED"},
	{ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{ErrBidTooLow, "BID_TOO_LOW"},
	{ErrNotWinner, "NOT_WINNER"},
	{ErrVoucherInvalid, "VOUCHER_INVALID"},
	{ErrValidationFailed, "VALIDATION_FAILED"},
	{ErrConflict, "CONFLICT"},
}

// Kind returns the stable code for a domain error, or "INTERNAL".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL"
}

// IsDomain reports whether err belongs to the taxonomy above.
func IsDomain(err error) bool { return Kind(err) != "INTERNAL" }
