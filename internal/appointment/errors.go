package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrConflict          = errors.New("veterinarian is already booked for the requested interval")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAppointmentClosed = errors.New("appointment is closed")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrStorage           = errors.New("storage failure")
	ErrInvoiceAttached   = errors.New("invoice already attached")
)

// ConflictError is returned when a requested interval overlaps an active
// appointment of the same veterinarian. ConflictingID is nil when the
// database constraint caught the overlap rather than the calendar.
type ConflictError struct {
	VeterinarianID uuid.UUID
	Requested      Interval
	ConflictingID  uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ConflictingID == uuid.Nil {
		return fmt.Sprintf("veterinarian %s already booked between %s and %s", e.VeterinarianID,
			e.Requested.Start.Format(time.RFC3339), e.Requested.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("veterinarian %s already booked: conflicts with appointment %s", e.VeterinarianID, e.ConflictingID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError reports a status change the state machine refuses. It
// matches ErrAppointmentClosed when the appointment is terminal and
// ErrInvalidTransition otherwise.
type TransitionError struct {
	From    Status
	Trigger Trigger
	Reason  string
	closed  bool
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s appointment in status %s", e.Trigger, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	if e.closed {
		return ErrAppointmentClosed
	}
	return ErrInvalidTransition
}

// ValidationError is a request rejected at the boundary, before any lock or
// storage access.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.kind != nil && target == e.kind
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidInterval(reason string) error {
	return &ValidationError{Field: "interval", Reason: reason, kind: ErrInvalidInterval}
}

// StorageError wraps infrastructure failures so callers can tell them apart
// from domain rejections.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) || errors.Is(err, ErrConflict) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
