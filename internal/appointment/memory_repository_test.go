package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryIsolatesCallers(t *testing.T) {
	repo := NewMemoryRepository()
	appt := sampleAppointment(StatusScheduled)
	require.NoError(t, repo.Create(context.Background(), appt))

	appt.Reason = "changed after create"
	appt.History[0].To = StatusCancelled

	got, err := repo.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dental cleaning", got.Reason)
	assert.Equal(t, StatusScheduled, got.History[0].To)

	got.History = append(got.History, Transition{})
	again, err := repo.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Len(t, again.History, 1)
}

func TestMemoryRepositoryCreateRejectsDuplicates(t *testing.T) {
	repo := NewMemoryRepository()
	appt := sampleAppointment(StatusScheduled)
	require.NoError(t, repo.Create(context.Background(), appt))
	assert.Error(t, repo.Create(context.Background(), appt))
}

func TestMemoryRepositorySave(t *testing.T) {
	repo := NewMemoryRepository()
	appt := sampleAppointment(StatusScheduled)
	require.NoError(t, repo.Create(context.Background(), appt))

	next := appt.Clone()
	next.History = append(next.History, Transition{From: StatusScheduled, To: StatusInProgress, At: appt.CreatedAt.Add(time.Hour)})
	next.Status = StatusInProgress

	assert.ErrorIs(t, repo.Save(context.Background(), next, StatusInProgress), errStaleWrite)
	require.NoError(t, repo.Save(context.Background(), next, StatusScheduled))
	assert.ErrorIs(t, repo.Save(context.Background(), next, StatusScheduled), errStaleWrite)

	missing := sampleAppointment(StatusCancelled)
	assert.ErrorIs(t, repo.Save(context.Background(), missing, StatusScheduled), ErrNotFound)

	stored, err := repo.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, stored.Status)
	assert.Len(t, stored.History, 2)
}

func TestMemoryRepositoryListings(t *testing.T) {
	repo := NewMemoryRepository()
	vet := uuid.New()

	late := sampleAppointment(StatusScheduled)
	late.VeterinarianID = vet
	late.Interval = at(15, 0, 15, 30)
	early := sampleAppointment(StatusInProgress)
	early.VeterinarianID = vet
	done := sampleAppointment(StatusCompleted)
	done.VeterinarianID = vet
	dropped := sampleAppointment(StatusCancelled)

	for _, a := range []*Appointment{late, early, done, dropped} {
		require.NoError(t, repo.Create(context.Background(), a))
	}

	active, err := repo.ListActiveByVeterinarian(context.Background(), vet)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, early.ID, active[0].ID)
	assert.Equal(t, late.ID, active[1].ID)

	all, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	billable, err := repo.ListBillable(context.Background())
	require.NoError(t, err)
	require.Len(t, billable, 1)
	assert.Equal(t, done.ID, billable[0].ID)

	from, to := day.Add(10*time.Hour+30*time.Minute), day.Add(15*time.Hour)
	window, err := repo.List(context.Background(), Filter{VeterinarianID: &vet, From: &from, To: &to})
	require.NoError(t, err)
	assert.Empty(t, window, "both bounds are exclusive of touching appointments")
}
