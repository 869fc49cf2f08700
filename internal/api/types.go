package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	ClientRef      string    `json:"client_ref"`
	PetRef         string    `json:"pet_ref"`
	VeterinarianID string    `json:"veterinarian_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Reason         string    `json:"reason"`
	Notes          string    `json:"notes,omitempty"`
}

// RescheduleAppointmentRequest moves an appointment. Start and End must be
// given together; omitted fields keep their current value.
type RescheduleAppointmentRequest struct {
	VeterinarianID *string    `json:"veterinarian_id,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteAppointmentRequest struct {
	Diagnosis string `json:"diagnosis,omitempty"`
	Treatment string `json:"treatment,omitempty"`
}

type AttachInvoiceRequest struct {
	InvoiceRef string `json:"invoice_ref"`
}

type TransitionResponse struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID            `json:"id"`
	ClientRef          uuid.UUID            `json:"client_ref"`
	PetRef             uuid.UUID            `json:"pet_ref"`
	VeterinarianID     uuid.UUID            `json:"veterinarian_id"`
	Start              time.Time            `json:"start"`
	End                time.Time            `json:"end"`
	Status             string               `json:"status"`
	Reason             string               `json:"reason"`
	Notes              string               `json:"notes,omitempty"`
	Diagnosis          string               `json:"diagnosis,omitempty"`
	Treatment          string               `json:"treatment,omitempty"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
	InvoiceRef         *string              `json:"invoice_ref,omitempty"`
	History            []TransitionResponse `json:"history"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

type AppointmentListResponse struct {
	Items []AppointmentResponse `json:"items"`
	Count int                   `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	history := make([]TransitionResponse, 0, len(a.History))
	for _, t := range a.History {
		history = append(history, TransitionResponse{From: t.From.String(), To: t.To.String(), At: t.At})
	}
	return AppointmentResponse{
		ID:                 a.ID,
		ClientRef:          a.ClientRef,
		PetRef:             a.PetRef,
		VeterinarianID:     a.VeterinarianID,
		Start:              a.Interval.Start,
		End:                a.Interval.End,
		Status:             a.Status.String(),
		Reason:             a.Reason,
		Notes:              a.Notes,
		Diagnosis:          a.Diagnosis,
		Treatment:          a.Treatment,
		CancellationReason: a.CancellationReason,
		InvoiceRef:         a.InvoiceRef,
		History:            history,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toListResponse(items []appointment.Appointment) AppointmentListResponse {
	out := make([]AppointmentResponse, 0, len(items))
	for i := range items {
		out = append(out, toAppointmentResponse(&items[i]))
	}
	return AppointmentListResponse{Items: out, Count: len(out)}
}
