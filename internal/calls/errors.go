package calls

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrForbidden rejects actors who are not members of the squad.
	ErrForbidden = errors.New("not a member of this squad")

	// ErrNotFound rejects operations against unknown squads or calls.
	ErrNotFound = errors.New("record not found")

	// ErrPremiumSquad rejects consensus operations on premium squads, which
	// schedule calls through their coach instead.
	ErrPremiumSquad = errors.New("premium squads schedule calls through their coach")

	// ErrConflict surfaces an exhausted optimistic-concurrency retry. The
	// caller should retry the whole operation.
	ErrConflict = errors.New("concurrent update detected, please retry")

	// errStaleWrite forces a transaction rollback and a single in-service
	// retry of the read-modify-write cycle.
	errStaleWrite = errors.New("stale write")
)

// ValidationError rejects an operation before any state mutation; the
// caller can fix the input and resubmit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// isUniqueViolation detects a racing insert into the squad's single active
// proposal slot. Postgres reports a duplicate key, sqlite a UNIQUE
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
