package external

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
)

// ErrorKind classifies provider errors so callers never match on message text
type ErrorKind int

const (
	// KindOther is any provider error without special handling
	KindOther ErrorKind = iota
	// KindNotFound means the object is already absent at the provider
	KindNotFound
	// KindAlreadyTerminal means the object is in a final state that rejects
	// the requested transition, e.g. paying a closed invoice
	KindAlreadyTerminal
	// KindAlreadyPaid means the invoice to pay is already paid
	KindAlreadyPaid
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyTerminal:
		return "AlreadyTerminal"
	case KindAlreadyPaid:
		return "AlreadyPaid"
	default:
		return "Other"
	}
}

// Error is a classified provider error
type Error struct {
	Kind       ErrorKind
	Type       string
	Code       string
	Message    string
	StatusCode int
	// Body is the raw HTTP response body returned by the provider
	Body []byte

	err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stripe %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// terminal messages the API returns without a dedicated error code, matched
// exactly
var terminalMessages = map[string]ErrorKind{
	"Invoice is already paid":   KindAlreadyPaid,
	"Invoice is already closed": KindAlreadyTerminal,
}

// notFoundPrefixes covers errors such as "No such customer: cus_123" that
// arrive as plain invalid requests on older API versions
var notFoundPrefixes = []string{
	"No such ",
}

// Classify converts an error from stripe-go into *Error. Errors that did
// not originate from the API are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}

	e := &Error{
		Kind:       KindOther,
		Type:       string(stripeErr.Type),
		Code:       string(stripeErr.Code),
		Message:    stripeErr.Msg,
		StatusCode: stripeErr.HTTPStatusCode,
		err:        err,
	}
	if stripeErr.LastResponse != nil && len(stripeErr.LastResponse.RawJSON) > 0 {
		e.Body = stripeErr.LastResponse.RawJSON
	} else {
		e.Body = []byte(stripeErr.Error())
	}

	switch {
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		e.Kind = KindNotFound
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case hasAnyPrefix(stripeErr.Msg, notFoundPrefixes):
		e.Kind = KindNotFound
	default:
		if kind, ok := terminalMessages[stripeErr.Msg]; ok {
			e.Kind = kind
		}
	}
	return e
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindOther, false
}

// IsProviderError reports whether err originated at the provider
func IsProviderError(err error) bool {
	_, ok := kindOf(err)
	return ok
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsAlreadyTerminal reports whether the object was already in a final state,
// including an already paid invoice
func IsAlreadyTerminal(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == KindAlreadyTerminal || k == KindAlreadyPaid)
}

// IsAlreadyPaid reports whether err is exactly the provider's refusal to pay
// an invoice that is already paid
func IsAlreadyPaid(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAlreadyPaid
}

// IsInvalidRequest reports whether the provider rejected the request parameters
func IsInvalidRequest(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == string(stripe.ErrorTypeInvalidRequest)
}

// Body returns the provider's response body for err, if any
func Body(err error) []byte {
	var e *Error
	if errors.As(err, &e) {
		return e.Body
	}
	return nil
}
