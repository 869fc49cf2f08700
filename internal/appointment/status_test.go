package appointment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from    Status
		trigger Trigger
		want    Status
		wantErr error
	}{
		{StatusNone, TriggerCreate, StatusScheduled, nil},
		{StatusScheduled, TriggerStart, StatusInProgress, nil},
		{StatusScheduled, TriggerReschedule, StatusScheduled, nil},
		{StatusScheduled, TriggerCancel, StatusCancelled, nil},
		{StatusInProgress, TriggerCancel, StatusCancelled, nil},
		{StatusInProgress, TriggerComplete, StatusCompleted, nil},

		{StatusNone, TriggerStart, StatusNone, ErrInvalidTransition},
		{StatusScheduled, TriggerCreate, StatusScheduled, ErrInvalidTransition},
		{StatusScheduled, TriggerComplete, StatusScheduled, ErrInvalidTransition},
		{StatusInProgress, TriggerStart, StatusInProgress, ErrInvalidTransition},
		{StatusInProgress, TriggerReschedule, StatusInProgress, ErrInvalidTransition},

		{StatusCompleted, TriggerCancel, StatusCompleted, ErrAppointmentClosed},
		{StatusCompleted, TriggerReschedule, StatusCompleted, ErrAppointmentClosed},
		{StatusCancelled, TriggerStart, StatusCancelled, ErrAppointmentClosed},
		{StatusCancelled, TriggerReschedule, StatusCancelled, ErrAppointmentClosed},
		{StatusCancelled, TriggerCancel, StatusCancelled, ErrAppointmentClosed},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.trigger), func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.trigger)
			assert.Equal(t, tt.want, got)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.trigger, te.Trigger)
		})
	}
}

func TestTerminalStatusesAreNeverInvalidTransitions(t *testing.T) {
	_, err := NextStatus(StatusCompleted, TriggerStart)
	assert.ErrorIs(t, err, ErrAppointmentClosed)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("pending")
	assert.Error(t, err)

	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusScheduled.Active())
	assert.True(t, StatusInProgress.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusNone.Active())

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusScheduled.Terminal())

	assert.Equal(t, "none", StatusNone.String())
}
