package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

// AppointmentService is what the HTTP layer needs from *appointment.Service.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Start(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, notes appointment.CompletionNotes) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	AttachInvoice(ctx context.Context, id uuid.UUID, invoiceRef string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
	Agenda(ctx context.Context, vetID uuid.UUID, day time.Time) ([]appointment.Appointment, error)
	FindOverlapCandidates(ctx context.Context, vetID uuid.UUID, iv appointment.Interval) ([]appointment.Appointment, error)
	ListBillable(ctx context.Context) ([]appointment.Appointment, error)
}

type RouterConfig struct {
	Service  AppointmentService
	Logger   zerolog.Logger
	Postgres Pinger
	Redis    Pinger
	// Metrics serves /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
	// TracerProvider starts request spans; the global provider when nil.
	TracerProvider trace.TracerProvider
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware(tp))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Post("/{id}/start", startAppointmentHandler(cfg.Service))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/{id}/invoice", attachInvoiceHandler(cfg.Service))
	})

	r.Get("/veterinarians/{id}/overlaps", overlapsHandler(cfg.Service))
	r.Get("/veterinarians/{id}/agenda", agendaHandler(cfg.Service))
	r.Get("/billing/billable", billableHandler(cfg.Service))

	return r
}
