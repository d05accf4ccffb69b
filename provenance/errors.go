package provenance

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrAlreadyFrozen is returned when a ledger directory already holds a freeze record.
	ErrAlreadyFrozen = xerrors.New("dataset already frozen")
	// ErrNotFrozen is returned when validating against a ledger with no freeze record.
	ErrNotFrozen = xerrors.New("dataset not frozen")
	// ErrNotAuthorized is returned by Authorize before the dataset was validated in this run.
	ErrNotAuthorized = xerrors.New("dataset not validated")
)

// HashMismatchError reports a dataset or artifact whose hash differs from the freeze record.
type HashMismatchError struct {
	Subject  string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.Subject, e.Expected, e.Actual)
}
