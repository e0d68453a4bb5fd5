package memory

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes memory errors.
type ErrorCode string

const (
	// CodeValidation indicates an invalid record. Raised before any write.
	CodeValidation ErrorCode = "validation"

	// CodeNotFound indicates a missing record or relation endpoint.
	// Raised before any write.
	CodeNotFound ErrorCode = "not_found"

	// CodePersistence indicates the underlying store failed. The transaction
	// has been rolled back.
	CodePersistence ErrorCode = "persistence"
)

// Error is returned by every MemoryStore write and by reads of missing
// records.
type Error struct {
	Code ErrorCode
	Op   string
	ID   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsPersistence reports whether err is a persistence error.
func IsPersistence(err error) bool { return hasCode(err, CodePersistence) }

func hasCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

func validationError(op, id string, err error) error {
	return &Error{Code: CodeValidation, Op: op, ID: id, Err: err}
}

func notFoundError(op, id string, err error) error {
	return &Error{Code: CodeNotFound, Op: op, ID: id, Err: err}
}

// persistenceError wraps a store failure unless it already carries a code,
// so not-found checks made inside a transaction keep their classification.
func persistenceError(op, id string, err error) error {
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return &Error{Code: CodePersistence, Op: op, ID: id, Err: err}
}
