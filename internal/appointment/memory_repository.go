package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. It is used for
// local development and tests; several services may share one instance to
// behave like replicas over a single database.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
	order []uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Appointment)}
}

func (r *MemoryRepository) Create(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[appt.ID]; ok {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	r.items[appt.ID] = appt.Clone()
	r.order = append(r.order, appt.ID)
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, appt *Appointment, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[appt.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return errStaleWrite
	}
	if len(appt.History) != len(cur.History)+1 {
		return fmt.Errorf("save %s: expected exactly one new history entry", appt.ID)
	}
	r.items[appt.ID] = appt.Clone()
	return nil
}

func (r *MemoryRepository) SetInvoiceRef(_ context.Context, id uuid.UUID, ref string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status != StatusCompleted {
		return nil, &TransitionError{From: cur.Status, Trigger: TriggerInvoice, Reason: "only completed appointments can be invoiced"}
	}
	if cur.InvoiceRef != nil {
		return nil, ErrInvoiceAttached
	}
	cur.InvoiceRef = &ref
	cur.UpdatedAt = time.Now().UTC()
	return cur.Clone(), nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cur.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Appointment, error) {
	return r.collect(f.matches), nil
}

func (r *MemoryRepository) ListActiveByVeterinarian(_ context.Context, vetID uuid.UUID) ([]Appointment, error) {
	return r.collect(func(a *Appointment) bool {
		return a.VeterinarianID == vetID && a.Active()
	}), nil
}

func (r *MemoryRepository) ListActive(_ context.Context) ([]Appointment, error) {
	return r.collect((*Appointment).Active), nil
}

func (r *MemoryRepository) ListBillable(_ context.Context) ([]Appointment, error) {
	return r.collect((*Appointment).Billable), nil
}

func (r *MemoryRepository) collect(keep func(*Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, id := range r.order {
		a := r.items[id]
		if keep(a) {
			out = append(out, *a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})
	return out
}
