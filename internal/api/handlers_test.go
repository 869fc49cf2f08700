package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/lock"
)

var clinicDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: clinicDay.Add(8 * time.Hour)}
	cfg := config.Config{
		LockDriver:  config.LockLocal,
		StartPolicy: config.StartStrict,
		MinDuration: time.Minute,
		MaxDuration: 480 * time.Minute,
	}
	svc := appointment.NewService(
		appointment.NewMemoryRepository(),
		lock.NewLocalLocker(time.Second),
		cfg,
		appointment.WithClock(func() time.Time { return ts.now }),
	)
	ts.handler = NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Metrics: http.NotFoundHandler(),
		Env:     "test",
		Version: "dev",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, vetID uuid.UUID, startHour, minutes int) *httptest.ResponseRecorder {
	t.Helper()
	start := clinicDay.Add(time.Duration(startHour) * time.Hour)
	return ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		ClientRef:      uuid.NewString(),
		PetRef:         uuid.NewString(),
		VeterinarianID: vetID.String(),
		Start:          start,
		End:            start.Add(time.Duration(minutes) * time.Minute),
		Reason:         "Annual vaccination",
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Error
}

func TestBookAppointment(t *testing.T) {
	ts := newTestServer(t)
	vetID := uuid.New()

	rec := ts.book(t, vetID, 10, 30)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, vetID, resp.VeterinarianID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "scheduled", resp.History[0].To)

	got := ts.do(t, http.MethodGet, "/appointments/"+resp.ID.String(), nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, resp.ID, decode[AppointmentResponse](t, got).ID)
}

func TestBookAppointmentOverlapIsConflict(t *testing.T) {
	ts := newTestServer(t)
	vetID := uuid.New()

	require.Equal(t, http.StatusCreated, ts.book(t, vetID, 10, 60).Code)

	rec := ts.book(t, vetID, 10, 30)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "veterinarian_unavailable", errorCode(t, rec))

	// Touching the end of the first visit is fine.
	assert.Equal(t, http.StatusCreated, ts.book(t, vetID, 11, 30).Code)
}

func TestBookAppointmentBadInput(t *testing.T) {
	ts := newTestServer(t)
	start := clinicDay.Add(10 * time.Hour)
	valid := BookAppointmentRequest{
		ClientRef:      uuid.NewString(),
		PetRef:         uuid.NewString(),
		VeterinarianID: uuid.NewString(),
		Start:          start,
		End:            start.Add(30 * time.Minute),
		Reason:         "Limping on left leg",
	}

	tests := []struct {
		name   string
		mutate func(r *BookAppointmentRequest)
		code   string
	}{
		{"bad client ref", func(r *BookAppointmentRequest) { r.ClientRef = "nope" }, "invalid_client_ref"},
		{"bad pet ref", func(r *BookAppointmentRequest) { r.PetRef = "" }, "invalid_pet_ref"},
		{"bad veterinarian", func(r *BookAppointmentRequest) { r.VeterinarianID = "42" }, "invalid_veterinarian_id"},
		{"inverted interval", func(r *BookAppointmentRequest) { r.End = r.Start.Add(-time.Minute) }, "invalid_interval"},
		{"past start", func(r *BookAppointmentRequest) {
			r.Start = clinicDay.Add(7 * time.Hour)
			r.End = r.Start.Add(30 * time.Minute)
		}, "invalid_interval"},
		{"short reason", func(r *BookAppointmentRequest) { r.Reason = "ok" }, "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			rec := ts.do(t, http.MethodPost, "/appointments", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request_body", errorCode(t, rec))
	})
}

func TestAppointmentLifecycle(t *testing.T) {
	ts := newTestServer(t)
	booked := decode[AppointmentResponse](t, ts.book(t, uuid.New(), 10, 30))
	base := "/appointments/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "strict policy refuses an early start")
	assert.Equal(t, "invalid_status_transition", errorCode(t, rec))

	ts.now = booked.Start
	rec = ts.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, base+"/invoice", AttachInvoiceRequest{InvoiceRef: "INV-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", errorCode(t, rec))

	ts.now = booked.Start.Add(25 * time.Minute)
	rec = ts.do(t, http.MethodPost, base+"/complete", CompleteAppointmentRequest{
		Diagnosis: "Mild otitis",
		Treatment: "Ear drops twice daily",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "completed", completed.Status)
	assert.Equal(t, "Mild otitis", completed.Diagnosis)
	assert.Len(t, completed.History, 3)

	billable := decode[AppointmentListResponse](t, ts.do(t, http.MethodGet, "/billing/billable", nil))
	require.Equal(t, 1, billable.Count)
	assert.Equal(t, booked.ID, billable.Items[0].ID)

	rec = ts.do(t, http.MethodPost, base+"/invoice", AttachInvoiceRequest{InvoiceRef: "INV-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decode[AppointmentResponse](t, rec).InvoiceRef)

	rec = ts.do(t, http.MethodPost, base+"/invoice", AttachInvoiceRequest{InvoiceRef: "INV-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invoice_already_attached", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "appointment_closed", errorCode(t, rec))

	billable = decode[AppointmentListResponse](t, ts.do(t, http.MethodGet, "/billing/billable", nil))
	assert.Zero(t, billable.Count)
}

func TestCancelFreesSlot(t *testing.T) {
	ts := newTestServer(t)
	vetID := uuid.New()
	booked := decode[AppointmentResponse](t, ts.book(t, vetID, 10, 30))

	rec := ts.do(t, http.MethodPost, "/appointments/"+booked.ID.String()+"/cancel", CancelAppointmentRequest{Reason: "Owner travelling"})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "Owner travelling", cancelled.CancellationReason)

	assert.Equal(t, http.StatusCreated, ts.book(t, vetID, 10, 30).Code)

	rec = ts.do(t, http.MethodPost, "/appointments/"+booked.ID.String()+"/reschedule", RescheduleAppointmentRequest{
		Start: ptr(clinicDay.Add(14 * time.Hour)),
		End:   ptr(clinicDay.Add(14*time.Hour + 30*time.Minute)),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "appointment_closed", errorCode(t, rec))
}

func TestEmptyChunkedBodyIsOptional(t *testing.T) {
	ts := newTestServer(t)
	booked := decode[AppointmentResponse](t, ts.book(t, uuid.New(), 10, 30))

	req := httptest.NewRequest(http.MethodPost, "/appointments/"+booked.ID.String()+"/cancel", http.NoBody)
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	req = httptest.NewRequest(http.MethodPost, "/appointments/"+booked.ID.String()+"/complete", bytes.NewBufferString("{"))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "invalid_request_body", errorCode(t, rec), "a truncated body is still rejected")
}

func TestRescheduleAppointment(t *testing.T) {
	ts := newTestServer(t)
	vetA, vetB := uuid.New(), uuid.New()
	first := decode[AppointmentResponse](t, ts.book(t, vetA, 10, 30))
	require.Equal(t, http.StatusCreated, ts.book(t, vetB, 10, 30).Code)
	path := "/appointments/" + first.ID.String() + "/reschedule"

	rec := ts.do(t, http.MethodPost, path, RescheduleAppointmentRequest{VeterinarianID: ptr(vetB.String())})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "veterinarian_unavailable", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, path, RescheduleAppointmentRequest{Start: ptr(clinicDay.Add(11 * time.Hour))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_interval", errorCode(t, rec))

	// Shifting within its own slot does not conflict with itself.
	rec = ts.do(t, http.MethodPost, path, RescheduleAppointmentRequest{
		Start: ptr(clinicDay.Add(10*time.Hour + 15*time.Minute)),
		End:   ptr(clinicDay.Add(10*time.Hour + 45*time.Minute)),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, clinicDay.Add(10*time.Hour+15*time.Minute), moved.Start.UTC())
	assert.Equal(t, "scheduled", moved.Status)
}

func TestListAndCalendarQueries(t *testing.T) {
	ts := newTestServer(t)
	vetID := uuid.New()
	a := decode[AppointmentResponse](t, ts.book(t, vetID, 9, 30))
	b := decode[AppointmentResponse](t, ts.book(t, vetID, 11, 30))
	require.Equal(t, http.StatusCreated, ts.book(t, uuid.New(), 9, 30).Code)

	list := decode[AppointmentListResponse](t, ts.do(t, http.MethodGet, "/appointments?veterinarian_id="+vetID.String(), nil))
	assert.Equal(t, 2, list.Count)

	list = decode[AppointmentListResponse](t, ts.do(t, http.MethodGet, "/appointments?client_id="+a.ClientRef.String(), nil))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, a.ID, list.Items[0].ID)

	list = decode[AppointmentListResponse](t, ts.do(t, http.MethodGet, "/appointments?status=scheduled", nil))
	assert.Equal(t, 3, list.Count)

	agenda := decode[AppointmentListResponse](t, ts.do(t, http.MethodGet,
		fmt.Sprintf("/veterinarians/%s/agenda?day=2026-03-02", vetID), nil))
	require.Equal(t, 2, agenda.Count)
	assert.Equal(t, a.ID, agenda.Items[0].ID)
	assert.Equal(t, b.ID, agenda.Items[1].ID)

	overlaps := decode[AppointmentListResponse](t, ts.do(t, http.MethodGet,
		fmt.Sprintf("/veterinarians/%s/overlaps?start=2026-03-02T09:15:00Z&end=2026-03-02T11:00:00Z", vetID), nil))
	require.Equal(t, 1, overlaps.Count)
	assert.Equal(t, a.ID, overlaps.Items[0].ID)
}

func TestQueryParameterValidation(t *testing.T) {
	ts := newTestServer(t)
	vetID := uuid.NewString()

	tests := []struct {
		path string
		code string
	}{
		{"/appointments?client_id=abc", "invalid_client_id"},
		{"/appointments?status=sleeping", "invalid_status"},
		{"/appointments?from=yesterday", "invalid_from"},
		{"/appointments/not-a-uuid", "invalid_appointment_id"},
		{"/veterinarians/x/agenda?day=2026-03-02", "invalid_veterinarian_id"},
		{"/veterinarians/" + vetID + "/agenda?day=03/02/2026", "invalid_day"},
		{"/veterinarians/" + vetID + "/overlaps?end=2026-03-02T10:00:00Z", "invalid_start"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	rec := ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", errorCode(t, rec))
}

type failingService struct {
	AppointmentService
	err error
}

func (s failingService) Get(context.Context, uuid.UUID) (*appointment.Appointment, error) {
	return nil, s.err
}

func TestHandleServiceErrorFallbacks(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{lock.ErrLockNotAcquired, http.StatusConflict, "veterinarian_busy"},
		{&appointment.StorageError{Op: "get appointment", Err: errors.New("connection reset")}, http.StatusInternalServerError, "internal_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				Service: failingService{err: tt.err},
				Logger:  zerolog.Nop(),
				Metrics: http.NotFoundHandler(),
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil))

			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotContains(t, resp.Details, "connection reset")
		})
	}
}

func ptr[T any](v T) *T { return &v }
