// Package errcode defines the error identifiers exchanged between the widget,
// the relay and the remote backend, and the sanitization applied before any
// identifier is displayed.
package errcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client-classified codes.
const (
	Network       = "NETWORK"
	Parse         = "PARSE"
	RequestFailed = "REQUEST_FAILED"
	BadResponse   = "BAD_RESPONSE"
	Unknown       = "UNKNOWN"
)

// Known remote codes.
const (
	Unauthorised        = "UNAUTHORISED"
	QtyLimit            = "QTY_LIMIT"
	NotImplemented      = "NOT_IMPLEMENTED"
	UpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	MerchantRequired    = "MERCHANT_REQUIRED"
	OfferNotFound       = "OFFER_NOT_FOUND"
	CurrencyMismatch    = "CURRENCY_MISMATCH"
	InvalidBuyer        = "INVALID_BUYER"
	InvalidRecipient    = "INVALID_RECIPIENT"
	InvalidQty          = "INVALID_QTY"
	EmptyOrder          = "EMPTY_ORDER"
	RateLimited         = "RATE_LIMITED"
	Forbidden           = "FORBIDDEN"
	Internal            = "INTERNAL"
	InvalidJSON         = "INVALID_JSON"
	PayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	NotFound            = "NOT_FOUND"
	MethodNotAllowed    = "METHOD_NOT_ALLOWED"
)

// maxLen bounds the length of a sanitized code.
const maxLen = 64

var known = map[string]struct{}{
	Network:             {},
	Parse:               {},
	RequestFailed:       {},
	BadResponse:         {},
	Unknown:             {},
	Unauthorised:        {},
	QtyLimit:            {},
	NotImplemented:      {},
	UpstreamUnreachable: {},
	MerchantRequired:    {},
	OfferNotFound:       {},
	CurrencyMismatch:    {},
	RateLimited:         {},
}

// Error carries a classified code together with the HTTP status (0 when no
// response was obtained) and the underlying cause, if any.
type Error struct {
	Code   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with the given code and cause.
func New(code string, status int, cause error) *Error {
	return &Error{Code: code, Status: status, Err: cause}
}

// IsKnown reports whether code is on the allow-list.
func IsKnown(code string) bool {
	_, ok := known[code]
	return ok
}

// CodeOf extracts the raw (unsanitized) code of err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network
	}
	return Unknown
}

// Sanitize maps any raw identifier to a bounded, markup-safe token.
func Sanitize(raw string) string {
	if raw == "" {
		return Unknown
	}
	if IsKnown(raw) {
		return raw
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if b.Len() >= maxLen {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
