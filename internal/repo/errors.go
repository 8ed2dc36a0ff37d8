package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned when a status update finds the row outside its allowed source statuses.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// uniqueViolation is the postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ConflictError reports a unique constraint violation.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// mapError converts driver errors into repo errors; other errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &ConflictError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

// ConstraintOf returns the violated constraint name when err is a conflict.
func ConstraintOf(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}
