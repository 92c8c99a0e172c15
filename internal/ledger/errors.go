package ledger

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound is wrapped when an id matches no row.
var ErrDocumentNotFound = errors.New("document not found")

// PersistenceError represents a failed ledger read or write.
type PersistenceError struct {
	Op         string
	DocumentID int64
	Cause      error
}

func (e *PersistenceError) Error() string {
	if e.DocumentID != 0 {
		return fmt.Sprintf("persistence error: %s document %d: %v", e.Op, e.DocumentID, e.Cause)
	}
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
