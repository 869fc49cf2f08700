package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// errStaleWrite means the stored row no longer has the status the writer
// expected. Under a correctly held veterinarian lock it cannot happen.
var errStaleWrite = errors.New("appointment changed concurrently")

// Repository persists appointments together with their history. Each write
// is one transaction: the row and its history entries land together or not
// at all.
type Repository interface {
	// Create inserts a new appointment and every history entry it carries.
	Create(ctx context.Context, appt *Appointment) error
	// Save updates the mutable fields of appt and appends its last history
	// entry, provided the stored status still equals from.
	Save(ctx context.Context, appt *Appointment, from Status) error
	// SetInvoiceRef attaches an invoice to a completed appointment that has none.
	SetInvoiceRef(ctx context.Context, id uuid.UUID, ref string) (*Appointment, error)

	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]Appointment, error)
	ListActiveByVeterinarian(ctx context.Context, vetID uuid.UUID) ([]Appointment, error)
	ListActive(ctx context.Context) ([]Appointment, error)
	ListBillable(ctx context.Context) ([]Appointment, error)
}
