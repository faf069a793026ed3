package protocol

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidationError is an error of a Validate method. Its Context is the path
// of fields, outermost first, at which the error was found.
type ValidationError struct {
	Context []string
	Err     error
}

func (ve *ValidationError) Error() string {
	if len(ve.Context) == 0 {
		return ve.Err.Error()
	}
	return strings.Join(ve.Context, ".") + ": " + ve.Err.Error()
}

func (ve *ValidationError) Unwrap() error { return ve.Err }

// NewValidationError returns a *ValidationError of the formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// ExtendContext prefixes the Context of |err| with the formatted field name,
// if |err| is a *ValidationError. |err| is returned in either case.
func ExtendContext(err error, format string, args ...interface{}) error {
	var ve, ok = err.(*ValidationError)
	if ok {
		ve.Context = append([]string{fmt.Sprintf(format, args...)}, ve.Context...)
	}
	return err
}

// ValidateName requires that |n| have a length in [min, max], and be a
// plain database or collection name as configured by an operator. Names may
// not contain whitespace, NUL or any of forbiddenNameRunes.
func ValidateName(n string, min, max int) error {
	if l := len(n); l < min || l > max {
		return NewValidationError("invalid length (%d; expected %d <= length <= %d)", l, min, max)
	}
	var bad = strings.IndexFunc(n, func(r rune) bool {
		return r == 0 || unicode.IsSpace(r) || strings.ContainsRune(forbiddenNameRunes, r)
	})
	if bad != -1 {
		return NewValidationError("not a valid name (%q)", n)
	}
	return nil
}

const (
	forbiddenNameRunes = `/\$"`
	maxNameLength      = 120
)
