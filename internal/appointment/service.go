package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/events"
	"github.com/hackgods/vet-appointment-scheduling/internal/lock"
	"github.com/hackgods/vet-appointment-scheduling/internal/metrics"
)

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentStarted     = "appointment.started"
	EventAppointmentCompleted   = "appointment.completed"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentInvoiced    = "appointment.invoiced"
)

// rescheduleAttempts bounds how often a mutation re-reads an appointment
// whose veterinarian changed between the unlocked read and lock acquisition.
const rescheduleAttempts = 3

const minTextLen = 3

var tracer = otel.Tracer("vetclinic.internal.appointment")

// Policy holds the configurable scheduling rules.
type Policy struct {
	StrictStart      bool
	StartGrace       time.Duration
	AllowPastBooking bool
	MinDuration      time.Duration
	MaxDuration      time.Duration
}

func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		StrictStart:      cfg.StartPolicy != config.StartLenient,
		StartGrace:       cfg.StartGrace,
		AllowPastBooking: cfg.AllowPastBooking,
		MinDuration:      cfg.MinDuration,
		MaxDuration:      cfg.MaxDuration,
	}
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.SchedulerMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCalendarReload makes the service rebuild a veterinarian's calendar from
// the repository every time it takes that veterinarian's lock. Needed when
// several processes share one database behind a distributed lock.
func WithCalendarReload(on bool) Option { return func(s *Service) { s.reload = on } }

// Service is the only writer of appointments and of the availability store.
// Mutations are serialized per veterinarian through the locker.
type Service struct {
	repo      Repository
	locker    lock.Locker
	store     *AvailabilityStore
	detector  *OverlapDetector
	policy    Policy
	publisher events.Publisher
	metrics   *metrics.SchedulerMetrics
	log       zerolog.Logger
	now       func() time.Time
	reload    bool
}

func NewService(repo Repository, locker lock.Locker, cfg config.Config, opts ...Option) *Service {
	store := NewAvailabilityStore()
	s := &Service{
		repo:      repo,
		locker:    locker,
		store:     store,
		detector:  NewOverlapDetector(store),
		policy:    PolicyFromConfig(cfg),
		publisher: events.NopPublisher{},
		log:       zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
		reload:    cfg.LockDriver == config.LockRedis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads every active appointment into the availability store. Call
// it once before serving traffic.
func (s *Service) Hydrate(ctx context.Context) error {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return storageErr("list active appointments", err)
	}

	byVet := make(map[uuid.UUID][]Booking)
	for _, a := range active {
		byVet[a.VeterinarianID] = append(byVet[a.VeterinarianID], Booking{AppointmentID: a.ID, Interval: a.Interval})
	}
	for vetID, bookings := range byVet {
		s.store.Replace(vetID, bookings)
	}
	s.metrics.AddActive(len(active))

	s.log.Info().Int("appointments", len(active)).Int("veterinarians", len(byVet)).Msg("availability store hydrated")
	return nil
}

// Book creates a scheduled appointment if the veterinarian is free for the
// whole interval. The conflict check, the insert and the calendar update
// happen under the veterinarian's lock and are applied together.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book", trace.WithAttributes(
		attribute.String("veterinarian_id", req.VeterinarianID.String()),
	))
	defer s.finish(span, "book", time.Now(), &err)

	if err := s.validateBook(req); err != nil {
		return nil, err
	}

	vetID := req.VeterinarianID
	err = s.withVetLocks(ctx, "book", []uuid.UUID{vetID}, func(ctx context.Context) error {
		if conflictID, ok := s.detector.Conflicts(vetID, req.Interval, nil); ok {
			return &ConflictError{VeterinarianID: vetID, Requested: req.Interval, ConflictingID: conflictID}
		}

		status, err := NextStatus(StatusNone, TriggerCreate)
		if err != nil {
			return err
		}
		now := s.now()
		candidate := &Appointment{
			ID:             uuid.New(),
			ClientRef:      req.ClientRef,
			PetRef:         req.PetRef,
			VeterinarianID: vetID,
			Interval:       req.Interval,
			Status:         status,
			Reason:         strings.TrimSpace(req.Reason),
			Notes:          strings.TrimSpace(req.Notes),
			History:        []Transition{{From: StatusNone, To: status, At: now}},
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		return s.store.Apply([]uuid.UUID{vetID}, func(tx *CalendarTx) error {
			if err := s.repo.Create(ctx, candidate); err != nil {
				return storageErr("create appointment", err)
			}
			tx.Insert(vetID, candidate.Interval, candidate.ID)
			appt = candidate
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddActive(1)
	s.committed(ctx, EventAppointmentBooked, appt, map[string]any{
		"veterinarian_id": vetID.String(),
		"start":           appt.Interval.Start,
		"end":             appt.Interval.End,
	})
	return appt.Clone(), nil
}

// Reschedule moves a scheduled appointment to a new interval and/or
// veterinarian. The new slot is checked with the appointment's own current
// slot excluded; on success the old slot is released and the new one taken
// in the same step.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.reschedule", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer s.finish(span, "reschedule", time.Now(), &err)

	if req.VeterinarianID == nil && req.Interval == nil {
		return nil, invalidField("reschedule", "a new veterinarian or interval is required")
	}
	if req.VeterinarianID != nil && *req.VeterinarianID == uuid.Nil {
		return nil, invalidField("veterinarian_id", "must be set")
	}
	if req.Interval != nil {
		if err := s.validateInterval(*req.Interval); err != nil {
			return nil, err
		}
	}

	var previous Appointment
	err = s.withAppointment(ctx, "reschedule", id, req.VeterinarianID, func(ctx context.Context, cur *Appointment) error {
		if _, err := NextStatus(cur.Status, TriggerReschedule); err != nil {
			return err
		}

		next := cur.Clone()
		if req.VeterinarianID != nil {
			next.VeterinarianID = *req.VeterinarianID
		}
		if req.Interval != nil {
			next.Interval = *req.Interval
		}

		if conflictID, ok := s.detector.Conflicts(next.VeterinarianID, next.Interval, &cur.ID); ok {
			return &ConflictError{VeterinarianID: next.VeterinarianID, Requested: next.Interval, ConflictingID: conflictID}
		}

		s.appendTransition(next, StatusScheduled)

		return s.store.Apply([]uuid.UUID{cur.VeterinarianID, next.VeterinarianID}, func(tx *CalendarTx) error {
			if err := s.repo.Save(ctx, next, cur.Status); err != nil {
				return storageErr("save rescheduled appointment", err)
			}
			tx.Remove(cur.VeterinarianID, cur.ID)
			tx.Insert(next.VeterinarianID, next.Interval, next.ID)
			previous = *cur
			appt = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, EventAppointmentRescheduled, appt, map[string]any{
		"previous_veterinarian_id": previous.VeterinarianID.String(),
		"previous_start":           previous.Interval.Start,
		"previous_end":             previous.Interval.End,
		"veterinarian_id":          appt.VeterinarianID.String(),
		"start":                    appt.Interval.Start,
		"end":                      appt.Interval.End,
	})
	return appt.Clone(), nil
}

// Cancel moves the appointment to cancelled and frees its slot. reason is
// optional.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason != "" && utf8.RuneCountInString(reason) < minTextLen {
		return nil, invalidField("cancellation_reason", fmt.Sprintf("must have at least %d characters", minTextLen))
	}

	return s.transition(ctx, "cancel", id, TriggerCancel, EventAppointmentCancelled, func(a *Appointment) error {
		a.CancellationReason = reason
		return nil
	})
}

// Start moves a scheduled appointment to in progress. With a strict start
// policy the appointment's start time, minus the configured grace, must have
// been reached.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, "start", id, TriggerStart, EventAppointmentStarted, func(a *Appointment) error {
		if !s.policy.StrictStart {
			return nil
		}
		earliest := a.Interval.Start.Add(-s.policy.StartGrace)
		if s.now().Before(earliest) {
			return &TransitionError{
				From:    a.Status,
				Trigger: TriggerStart,
				Reason:  fmt.Sprintf("cannot start before %s", earliest.Format(time.RFC3339)),
			}
		}
		return nil
	})
}

// Complete closes an in-progress appointment, recording the clinical notes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes CompletionNotes) (*Appointment, error) {
	notes.Diagnosis = strings.TrimSpace(notes.Diagnosis)
	notes.Treatment = strings.TrimSpace(notes.Treatment)
	if notes.Diagnosis != "" && utf8.RuneCountInString(notes.Diagnosis) < minTextLen {
		return nil, invalidField("diagnosis", fmt.Sprintf("must have at least %d characters", minTextLen))
	}

	return s.transition(ctx, "complete", id, TriggerComplete, EventAppointmentCompleted, func(a *Appointment) error {
		a.Diagnosis = notes.Diagnosis
		a.Treatment = notes.Treatment
		return nil
	})
}

// AttachInvoice records the invoice billing issued for a completed
// appointment, which removes it from ListBillable.
func (s *Service) AttachInvoice(ctx context.Context, id uuid.UUID, invoiceRef string) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.attach_invoice", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer s.finish(span, "attach_invoice", time.Now(), &err)

	invoiceRef = strings.TrimSpace(invoiceRef)
	if invoiceRef == "" {
		return nil, invalidField("invoice_ref", "must be set")
	}

	appt, err = s.repo.SetInvoiceRef(ctx, id, invoiceRef)
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) || errors.Is(err, ErrInvoiceAttached) {
			return nil, err
		}
		return nil, storageErr("attach invoice", err)
	}

	s.committed(ctx, EventAppointmentInvoiced, appt, map[string]any{"invoice_ref": invoiceRef})
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	return appt, nil
}

// FindOverlapCandidates lists the active appointments of a veterinarian that
// overlap iv. The calendar picks the candidates and their records are then
// loaded in one query outside the calendar lock; a candidate cancelled or
// moved in between is left out.
func (s *Service) FindOverlapCandidates(ctx context.Context, vetID uuid.UUID, iv Interval) ([]Appointment, error) {
	if iv.Start.IsZero() || iv.End.IsZero() || !iv.Start.Before(iv.End) {
		return nil, invalidInterval("start must be before end")
	}

	candidates := s.detector.Candidates(vetID, iv)
	if len(candidates) == 0 {
		return nil, nil
	}
	wanted := make(map[uuid.UUID]struct{}, len(candidates))
	for _, b := range candidates {
		wanted[b.AppointmentID] = struct{}{}
	}

	records, err := s.repo.List(ctx, Filter{VeterinarianID: &vetID, From: &iv.Start, To: &iv.End})
	if err != nil {
		return nil, storageErr("load overlap candidates", err)
	}

	out := make([]Appointment, 0, len(candidates))
	for _, a := range records {
		if _, ok := wanted[a.ID]; ok && a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) ListByClient(ctx context.Context, clientRef uuid.UUID) ([]Appointment, error) {
	return s.List(ctx, Filter{ClientRef: &clientRef})
}

func (s *Service) ListByPet(ctx context.Context, petRef uuid.UUID) ([]Appointment, error) {
	return s.List(ctx, Filter{PetRef: &petRef})
}

// ListBillable returns completed appointments without an invoice.
func (s *Service) ListBillable(ctx context.Context) ([]Appointment, error) {
	out, err := s.repo.ListBillable(ctx)
	if err != nil {
		return nil, storageErr("list billable", err)
	}
	return out, nil
}

// Agenda lists every appointment of a veterinarian on the given day, in the
// day's location.
func (s *Service) Agenda(ctx context.Context, vetID uuid.UUID, day time.Time) ([]Appointment, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)
	return s.List(ctx, Filter{VeterinarianID: &vetID, From: &from, To: &to})
}

func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, invalidField("range", "from must be before to")
	}
	out, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	return out, nil
}

// transition runs a status change that keeps the veterinarian and interval.
// check may veto the change or fill in fields before it is persisted.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, trigger Trigger, event string, check func(a *Appointment) error) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment."+op, trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer s.finish(span, op, time.Now(), &err)

	var from Status
	err = s.withAppointment(ctx, op, id, nil, func(ctx context.Context, cur *Appointment) error {
		to, err := NextStatus(cur.Status, trigger)
		if err != nil {
			return err
		}

		next := cur.Clone()
		if err := check(next); err != nil {
			return err
		}
		s.appendTransition(next, to)

		return s.store.Apply([]uuid.UUID{cur.VeterinarianID}, func(tx *CalendarTx) error {
			if err := s.repo.Save(ctx, next, cur.Status); err != nil {
				return storageErr("save appointment", err)
			}
			if !to.Active() {
				tx.Remove(cur.VeterinarianID, cur.ID)
			}
			from = cur.Status
			appt = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if from.Active() && !appt.Status.Active() {
		s.metrics.AddActive(-1)
	}
	s.committed(ctx, event, appt, map[string]any{"from": from.String(), "to": appt.Status.String()})
	return appt.Clone(), nil
}

// withAppointment locks the appointment's veterinarian (plus target, when a
// reschedule moves it) and hands fn the current record read under the lock.
func (s *Service) withAppointment(ctx context.Context, op string, id uuid.UUID, target *uuid.UUID, fn func(ctx context.Context, cur *Appointment) error) error {
	for attempt := 0; attempt < rescheduleAttempts; attempt++ {
		snapshot, err := s.repo.Get(ctx, id)
		if err != nil {
			return storageErr("load appointment", err)
		}

		vets := []uuid.UUID{snapshot.VeterinarianID}
		if target != nil {
			vets = append(vets, *target)
		}

		moved := false
		err = s.withVetLocks(ctx, op, vets, func(ctx context.Context) error {
			cur, err := s.repo.Get(ctx, id)
			if err != nil {
				return storageErr("load appointment", err)
			}
			if cur.VeterinarianID != snapshot.VeterinarianID {
				moved = true
				return nil
			}
			return fn(ctx, cur)
		})
		if err != nil || !moved {
			return err
		}
	}
	return fmt.Errorf("%s appointment %s: %w", op, id, lock.ErrLockNotAcquired)
}

func (s *Service) withVetLocks(ctx context.Context, op string, vets []uuid.UUID, fn func(ctx context.Context) error) error {
	ids := sortedUnique(vets)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, "vet:"+id.String())
	}

	requested := time.Now()
	return s.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		s.metrics.ObserveLockWait(op, time.Since(requested))
		if s.reload {
			for _, id := range ids {
				if err := s.reloadCalendar(ctx, id); err != nil {
					return err
				}
			}
		}
		return fn(ctx)
	})
}

func (s *Service) reloadCalendar(ctx context.Context, vetID uuid.UUID) error {
	active, err := s.repo.ListActiveByVeterinarian(ctx, vetID)
	if err != nil {
		return storageErr("reload calendar", err)
	}
	bookings := make([]Booking, 0, len(active))
	for _, a := range active {
		bookings = append(bookings, Booking{AppointmentID: a.ID, Interval: a.Interval})
	}
	s.store.Replace(vetID, bookings)
	return nil
}

// appendTransition records a status change. Timestamps never go backwards,
// even if the clock does; equal timestamps keep insertion order.
func (s *Service) appendTransition(a *Appointment, to Status) {
	at := s.now()
	if n := len(a.History); n > 0 && at.Before(a.History[n-1].At) {
		at = a.History[n-1].At
	}
	a.History = append(a.History, Transition{From: a.Status, To: to, At: at})
	a.Status = to
	a.UpdatedAt = at
}

func (s *Service) validateBook(req BookRequest) error {
	if req.ClientRef == uuid.Nil {
		return invalidField("client_ref", "must be set")
	}
	if req.PetRef == uuid.Nil {
		return invalidField("pet_ref", "must be set")
	}
	if req.VeterinarianID == uuid.Nil {
		return invalidField("veterinarian_id", "must be set")
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Reason)) < minTextLen {
		return invalidField("reason", fmt.Sprintf("must have at least %d characters", minTextLen))
	}
	return s.validateInterval(req.Interval)
}

func (s *Service) validateInterval(iv Interval) error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return invalidInterval("start and end are required")
	}
	if !iv.Start.Before(iv.End) {
		return invalidInterval("start must be before end")
	}
	d := iv.Duration()
	if s.policy.MinDuration > 0 && d < s.policy.MinDuration {
		return invalidInterval(fmt.Sprintf("duration %s is shorter than %s", d, s.policy.MinDuration))
	}
	if s.policy.MaxDuration > 0 && d > s.policy.MaxDuration {
		return invalidInterval(fmt.Sprintf("duration %s is longer than %s", d, s.policy.MaxDuration))
	}
	if !s.policy.AllowPastBooking && iv.Start.Before(s.now()) {
		return invalidInterval("start is in the past")
	}
	return nil
}

// committed publishes the event for a committed change. Publishing is best
// effort: the change is already durable, so failures are only logged.
func (s *Service) committed(ctx context.Context, eventType string, appt *Appointment, payload map[string]any) {
	s.log.Info().
		Str("event", eventType).
		Str("appointment_id", appt.ID.String()).
		Str("veterinarian_id", appt.VeterinarianID.String()).
		Str("status", appt.Status.String()).
		Msg("appointment updated")

	ev := events.Event{
		ID:            uuid.New(),
		Type:          eventType,
		AppointmentID: appt.ID,
		OccurredAt:    appt.UpdatedAt,
		Payload:       payload,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to publish appointment event")
	}
}

func (s *Service) finish(span trace.Span, op string, started time.Time, errp *error) {
	err := *errp
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(started))
	span.SetAttributes(attribute.String("outcome", outcome))

	switch outcome {
	case "ok":
	case "conflict":
		s.metrics.ObserveConflict(op)
		s.log.Debug().Err(err).Str("operation", op).Msg("request rejected")
	case "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Str("operation", op).Msg("operation failed")
	default:
		s.log.Debug().Err(err).Str("operation", op).Str("outcome", outcome).Msg("request rejected")
	}
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAppointmentClosed):
		return "closed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvoiceAttached):
		return "invoiced"
	case errors.Is(err, lock.ErrLockNotAcquired):
		return "busy"
	default:
		return "error"
	}
}
