package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval from a start time and a duration.
func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Transition is one entry of an appointment's audit trail.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

type Appointment struct {
	ID             uuid.UUID
	ClientRef      uuid.UUID
	PetRef         uuid.UUID
	VeterinarianID uuid.UUID
	Interval       Interval
	Status         Status
	Reason         string
	Notes          string

	Diagnosis          string
	Treatment          string
	CancellationReason string
	InvoiceRef         *string

	History   []Transition
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the appointment still occupies its veterinarian's calendar.
func (a *Appointment) Active() bool {
	return a.Status.Active()
}

// Billable reports whether billing can pick the appointment up.
func (a *Appointment) Billable() bool {
	return a.Status == StatusCompleted && a.InvoiceRef == nil
}

// Clone returns a deep copy so callers never share the history slice or the
// invoice pointer with the service's records.
func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	c := *a
	c.History = append([]Transition(nil), a.History...)
	if a.InvoiceRef != nil {
		ref := *a.InvoiceRef
		c.InvoiceRef = &ref
	}
	return &c
}

// BookRequest carries everything needed to create an appointment. Client and
// pet references come from the identity registry and are trusted as-is.
type BookRequest struct {
	ClientRef      uuid.UUID
	PetRef         uuid.UUID
	VeterinarianID uuid.UUID
	Interval       Interval
	Reason         string
	Notes          string
}

// RescheduleRequest moves an appointment to another veterinarian, another
// interval, or both. Nil fields keep the current value.
type RescheduleRequest struct {
	VeterinarianID *uuid.UUID
	Interval       *Interval
}

// CompletionNotes are recorded when a visit is completed.
type CompletionNotes struct {
	Diagnosis string
	Treatment string
}

// Filter narrows appointment listings. Zero fields are ignored.
type Filter struct {
	ClientRef      *uuid.UUID
	PetRef         *uuid.UUID
	VeterinarianID *uuid.UUID
	Status         *Status
	From           *time.Time
	To             *time.Time
}

func (f Filter) matches(a *Appointment) bool {
	if f.ClientRef != nil && a.ClientRef != *f.ClientRef {
		return false
	}
	if f.PetRef != nil && a.PetRef != *f.PetRef {
		return false
	}
	if f.VeterinarianID != nil && a.VeterinarianID != *f.VeterinarianID {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.From != nil && !a.Interval.End.After(*f.From) {
		return false
	}
	if f.To != nil && !a.Interval.Start.Before(*f.To) {
		return false
	}
	return true
}
