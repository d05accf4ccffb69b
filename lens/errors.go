package lens

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

// A Violation is one way an input departs from its schema. Row is the 1-based data row, zero for
// violations of the header.
type Violation struct {
	Row    int
	Column string
	Reason string
}

func (v *Violation) Error() string {
	switch {
	case v.Row == 0 && v.Column == "":
		return v.Reason
	case v.Row == 0:
		return fmt.Sprintf("column %q: %s", v.Column, v.Reason)
	case v.Column == "":
		return fmt.Sprintf("row %d: %s", v.Row, v.Reason)
	default:
		return fmt.Sprintf("row %d column %q: %s", v.Row, v.Column, v.Reason)
	}
}

// InputValidationError collects every violation found in one input.
type InputValidationError struct {
	Input string
	Err   error
}

func (e *InputValidationError) Error() string {
	errs := multierr.Errors(e.Err)
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid %s: %d violation(s): %s", e.Input, len(errs), strings.Join(msgs, "; "))
}

func (e *InputValidationError) Unwrap() error {
	return e.Err
}

// Violations returns each violation of the input.
func (e *InputValidationError) Violations() []*Violation {
	var out []*Violation
	for _, err := range multierr.Errors(e.Err) {
		var v *Violation
		if xerrors.As(err, &v) {
			out = append(out, v)
		}
	}
	return out
}

// A Validation accumulates violations of one input.
type Validation struct {
	input string
	err   error
}

func NewValidation(input string) *Validation {
	return &Validation{input: input}
}

// Add records a violation.
func (v *Validation) Add(row int, column string, format string, args ...interface{}) {
	v.err = multierr.Append(v.err, &Violation{Row: row, Column: column, Reason: fmt.Sprintf(format, args...)})
}

// Len is the number of violations recorded.
func (v *Validation) Len() int {
	return len(multierr.Errors(v.err))
}

// Err returns an InputValidationError holding every recorded violation, or nil when there are none.
func (v *Validation) Err() error {
	if v.err == nil {
		return nil
	}
	return &InputValidationError{Input: v.input, Err: v.err}
}
