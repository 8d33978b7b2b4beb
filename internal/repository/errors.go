package repository

import (
	"errors"
	"fmt"

	"github.com/noah-isme/course-review-api/pkg/database"
)

// ErrDuplicate signals that a unique constraint rejected the write.
var ErrDuplicate = errors.New("duplicate record")

// DuplicateError names the constraint behind an ErrDuplicate.
type DuplicateError struct {
	Constraint string
	Err        error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate record (%s): %v", e.Constraint, e.Err)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

func (e *DuplicateError) Unwrap() error { return e.Err }

func wrapWrite(op string, err error) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, &DuplicateError{Constraint: database.ConstraintName(err), Err: err})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ConstraintOf returns the violated constraint carried by err, if any.
func ConstraintOf(err error) string {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Constraint
	}
	return ""
}
