// Package failure defines the settlement error taxonomy. Every rejection
// surfaced by the core wraps exactly one of these sentinels.
package failure

import "errors"

var (
	ErrInvalidAttributes  = errors.New("invalid attributes")
	ErrAlreadyFunded      = errors.New("invoice already funded")
	ErrSelfFunding        = errors.New("business owner cannot fund own invoice")
	ErrUnauthorized       = errors.New("caller not authorized for operation")
	ErrNotFunded          = errors.New("invoice not in funded state")
	ErrNotDefaulted       = errors.New("invoice not in defaulted state")
	ErrNotYetDue          = errors.New("grace period has not elapsed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPoolInsufficient   = errors.New("insurance pool balance insufficient")
	ErrAlreadyInitialized = errors.New("global state already initialized")
	ErrNotInitialized     = errors.New("global state not initialized")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrDuplicate          = errors.New("duplicate instruction")
	ErrConflict           = errors.New("concurrent modification, retry budget exhausted")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidAttributes, "InvalidAttributes"},
	{ErrAlreadyFunded, "AlreadyFunded"},
	{ErrSelfFunding, "SelfFunding"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrNotFunded, "NotFunded"},
	{ErrNotDefaulted, "NotDefaulted"},
	{ErrNotYetDue, "NotYetDue"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrPoolInsufficient, "PoolInsufficient"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvoiceNotFound, "InvoiceNotFound"},
	{ErrDuplicate, "Duplicate"},
	{ErrConflict, "Conflict"},
}

// Code returns the stable name of the taxonomy member err wraps, or
// "Internal" when err is not a settlement rejection.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// IsRejection reports whether err is a settlement rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	return Code(err) != "Internal" && err != nil
}

// Sentinel maps a stable name back to its sentinel, or nil for unknown
// names. Used when decoding rejections published by another process.
func Sentinel(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
