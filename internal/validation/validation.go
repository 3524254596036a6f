package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

// Checkout form field names.
const (
	FieldBuyerName      = "buyer_name"
	FieldBuyerEmail     = "buyer_email"
	FieldRecipientEmail = "recipient_email"
)

// local-part @ domain . label, nothing stricter.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Errors collects every failing field of a single validation pass.
type Errors []*ValidationError

func (es Errors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Field returns the error reported for field, or nil.
func (es Errors) Field(field string) *ValidationError {
	for _, e := range es {
		if e.Field == field {
			return e
		}
	}
	return nil
}

// ValidName reports whether name is non-empty after trimming.
func ValidName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// ValidEmail reports whether email has the permissive address shape.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(strings.TrimSpace(email))
}

// ValidateCheckout runs all checkout checks together and reports each
// failing field. A nil result means the form is valid.
func ValidateCheckout(form models.CheckoutForm) Errors {
	var errs Errors

	if !ValidName(form.BuyerName) {
		errs = append(errs, &ValidationError{
			Field:   FieldBuyerName,
			Message: "is required",
		})
	}

	if !ValidEmail(form.BuyerEmail) {
		errs = append(errs, &ValidationError{
			Field:   FieldBuyerEmail,
			Message: "must be a valid email address",
		})
	}

	if !ValidEmail(form.RecipientEmail) {
		errs = append(errs, &ValidationError{
			Field:   FieldRecipientEmail,
			Message: "must be a valid email address",
		})
	}

	return errs
}

// ValidatePurchaseRequest checks a purchase request received by the local
// backend and returns the remote error code of the first problem found.
func ValidatePurchaseRequest(req models.PurchaseRequest) (string, error) {
	if strings.TrimSpace(req.MerchantID) == "" {
		return errcode.MerchantRequired, &ValidationError{
			Field:   "merchantId",
			Message: "is required",
		}
	}

	if !ValidName(req.Buyer.Name) || !ValidEmail(req.Buyer.Email) {
		return errcode.InvalidBuyer, &ValidationError{
			Field:   "buyer",
			Message: "name and a valid email are required",
		}
	}

	if !ValidEmail(req.Recipient.Email) {
		return errcode.InvalidRecipient, &ValidationError{
			Field:   "recipient.email",
			Message: "must be a valid email address",
		}
	}

	if len(req.Items) == 0 {
		return errcode.EmptyOrder, &ValidationError{
			Field:   "items",
			Message: "at least one item is required",
		}
	}

	if len(req.Items) > 100 {
		return errcode.InvalidQty, &ValidationError{
			Field:   "items",
			Message: "cannot contain more than 100 items",
		}
	}

	for i, item := range req.Items {
		if strings.TrimSpace(item.OfferID) == "" {
			return errcode.OfferNotFound, &ValidationError{
				Field:   fmt.Sprintf("items[%d].offerId", i),
				Message: "is required",
			}
		}
		if item.Qty <= 0 {
			return errcode.InvalidQty, &ValidationError{
				Field:   fmt.Sprintf("items[%d].qty", i),
				Message: "must be positive",
			}
		}
	}

	return "", nil
}

// SanitizeString strips control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
