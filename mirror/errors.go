package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedKind is returned by Sync for objects the mirror does not keep
	ErrUnsupportedKind = errors.New("unsupported object kind")
	// ErrMissingID is returned for payloads without an "id"
	ErrMissingID = errors.New("object has no id")
)

// LinkageMissingError means a mandatory relationship could not be resolved
// from the payload. The row is not written.
type LinkageMissingError struct {
	Kind     string
	ID       string
	Relation string
	Err      error
}

func (e *LinkageMissingError) Error() string {
	msg := fmt.Sprintf("%s %s has no resolvable %s", e.Kind, e.ID, e.Relation)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LinkageMissingError) Unwrap() error {
	return e.Err
}

// IsLinkageMissing reports whether err is, or wraps, a *LinkageMissingError
func IsLinkageMissing(err error) bool {
	var e *LinkageMissingError
	return errors.As(err, &e)
}
