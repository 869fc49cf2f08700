package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/events"
)

const EventAppointmentBillable = "appointment.billable"

// Source lists completed appointments that still need an invoice.
type Source interface {
	ListBillable(ctx context.Context) ([]appointment.Appointment, error)
}

// Marker remembers which appointments were already forwarded.
type Marker interface {
	MarkOnce(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Relay forwards billable appointments to the billing queue. An appointment
// stays billable until billing attaches an invoice, so the marker keeps the
// relay from sending it on every poll.
type Relay struct {
	source    Source
	marker    Marker
	publisher events.Publisher
	log       zerolog.Logger
}

func NewRelay(source Source, marker Marker, publisher events.Publisher, log zerolog.Logger) *Relay {
	return &Relay{source: source, marker: marker, publisher: publisher, log: log}
}

// RunOnce forwards every billable appointment not seen before and returns
// how many were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	items, err := r.source.ListBillable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list billable: %w", err)
	}

	sent := 0
	for i := range items {
		a := &items[i]
		first, err := r.marker.MarkOnce(ctx, a.ID.String())
		if err != nil {
			return sent, err
		}
		if !first {
			continue
		}

		if err := r.publisher.Publish(ctx, billableEvent(a)); err != nil {
			if ferr := r.marker.Forget(ctx, a.ID.String()); ferr != nil {
				r.log.Error().Err(ferr).Str("appointment_id", a.ID.String()).Msg("failed to clear relay mark")
			}
			return sent, fmt.Errorf("publish %s: %w", a.ID, err)
		}
		sent++
	}
	return sent, nil
}

// Run polls until ctx is done. Failed runs are logged and retried on the
// next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("shutdown signal received, stopping billing relay")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := r.RunOnce(runCtx)
	if err != nil {
		r.log.Error().Err(err).Int("sent", sent).Msg("billing relay run failed")
		return
	}
	r.log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("billing relay run complete")
}

func billableEvent(a *appointment.Appointment) events.Event {
	completedAt := a.UpdatedAt
	if n := len(a.History); n > 0 {
		completedAt = a.History[n-1].At
	}
	return events.Event{
		ID:            uuid.New(),
		Type:          EventAppointmentBillable,
		AppointmentID: a.ID,
		OccurredAt:    completedAt,
		Payload: map[string]any{
			"client_ref":      a.ClientRef.String(),
			"pet_ref":         a.PetRef.String(),
			"veterinarian_id": a.VeterinarianID.String(),
			"start":           a.Interval.Start,
			"end":             a.Interval.End,
			"reason":          a.Reason,
			"diagnosis":       a.Diagnosis,
			"treatment":       a.Treatment,
		},
	}
}
