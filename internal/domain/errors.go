package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound             = errors.New("resource not found")
	ErrAlreadyExists        = errors.New("resource already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternalError        = errors.New("internal error")
	ErrBucketNotFound       = errors.New("bucket not found")
	ErrPayerNotFound        = errors.New("payer not found")
	ErrPayeeNotFound        = errors.New("payee not found")
	ErrRuleNotFound         = errors.New("bucketing rule not found")
	ErrTemplateNotFound     = errors.New("file naming template not found")
	ErrReservationNotFound  = errors.New("check reservation not found")
	ErrCheckNotFound        = errors.New("check payment not found")
	ErrFileNotFound         = errors.New("generated file not found")
	ErrNoAvailableChecks    = errors.New("no available checks for payer")
	ErrOverlappingRange     = errors.New("check number range overlaps an existing reservation")
	ErrReservationInUse     = errors.New("reservation has allocated checks and cannot be cancelled")
	ErrPaymentRequired      = errors.New("payment required before generation")
	ErrCheckAssignment      = errors.New("check assignment failed")
	ErrMissingSftpConfig    = errors.New("payer has no SFTP configuration")
	ErrVoidWindowExpired    = errors.New("void window has expired")
	ErrEmptyRejectionReason = errors.New("rejection reason is required")
	ErrInvalidTemplate      = errors.New("invalid file naming template")
	ErrUnauthorized         = errors.New("not authorized to approve")
)

// InvalidStateError reports a transition requested against a bucket or check
// whose current state disallows it.
type InvalidStateError struct {
	Entity   string
	ID       string
	Current  string
	Expected string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.ID, e.Current, e.Expected)
}

// ErrInvalidState lets callers match any InvalidStateError with errors.Is.
var ErrInvalidState = errors.New("invalid state")

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NewInvalidStateError builds an InvalidStateError for the given entity.
func NewInvalidStateError(entity, id, current, expected string) error {
	return &InvalidStateError{Entity: entity, ID: id, Current: current, Expected: expected}
}

// Validation constants
const (
	MaxErrorMessageLength = 1000
	MaxNotesLength        = 1000
)
