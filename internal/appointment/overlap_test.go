package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// at returns the interval [h1:m1, h2:m2) on the test day.
func at(h1, m1, h2, m2 int) Interval {
	return Interval{
		Start: day.Add(time.Duration(h1)*time.Hour + time.Duration(m1)*time.Minute),
		End:   day.Add(time.Duration(h2)*time.Hour + time.Duration(m2)*time.Minute),
	}
}

func TestIntervalOverlaps(t *testing.T) {
	base := at(10, 0, 11, 0)

	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", at(10, 0, 11, 0), true},
		{"inside", at(10, 15, 10, 45), true},
		{"containing", at(9, 0, 12, 0), true},
		{"straddles start", at(9, 30, 10, 30), true},
		{"straddles end", at(10, 59, 11, 30), true},
		{"ends at start", at(9, 0, 10, 0), false},
		{"starts at end", at(11, 0, 12, 0), false},
		{"before", at(8, 0, 9, 0), false},
		{"after", at(12, 0, 13, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestOverlapDetectorConflicts(t *testing.T) {
	store := NewAvailabilityStore()
	detector := NewOverlapDetector(store)
	vet := uuid.New()

	morning, late := uuid.New(), uuid.New()
	store.Insert(vet, at(9, 0, 10, 0), morning)
	store.Insert(vet, at(14, 0, 15, 0), late)

	id, ok := detector.Conflicts(vet, at(9, 30, 9, 45), nil)
	require.True(t, ok)
	assert.Equal(t, morning, id)

	_, ok = detector.Conflicts(vet, at(10, 0, 14, 0), nil)
	assert.False(t, ok, "the gap between bookings is free")

	id, ok = detector.Conflicts(vet, at(13, 0, 16, 0), nil)
	require.True(t, ok)
	assert.Equal(t, late, id)

	_, ok = detector.Conflicts(uuid.New(), at(9, 0, 10, 0), nil)
	assert.False(t, ok, "other veterinarians are independent")
}

func TestOverlapDetectorExcludesOwnBooking(t *testing.T) {
	store := NewAvailabilityStore()
	detector := NewOverlapDetector(store)
	vet := uuid.New()

	own, other := uuid.New(), uuid.New()
	store.Insert(vet, at(10, 0, 11, 0), own)
	store.Insert(vet, at(11, 30, 12, 0), other)

	_, ok := detector.Conflicts(vet, at(10, 30, 11, 30), &own)
	assert.False(t, ok)

	id, ok := detector.Conflicts(vet, at(10, 30, 11, 45), &own)
	require.True(t, ok)
	assert.Equal(t, other, id)
}

func TestOverlapDetectorCandidatesAreOrdered(t *testing.T) {
	store := NewAvailabilityStore()
	detector := NewOverlapDetector(store)
	vet := uuid.New()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	store.Insert(vet, at(12, 0, 13, 0), ids[2])
	store.Insert(vet, at(8, 0, 9, 0), ids[0])
	store.Insert(vet, at(10, 0, 11, 0), ids[1])
	store.Insert(vet, at(15, 0, 16, 0), ids[3])

	got := detector.Candidates(vet, at(8, 30, 12, 30))
	require.Len(t, got, 3)
	assert.Equal(t, ids[0], got[0].AppointmentID)
	assert.Equal(t, ids[1], got[1].AppointmentID)
	assert.Equal(t, ids[2], got[2].AppointmentID)

	assert.Empty(t, detector.Candidates(vet, at(13, 0, 15, 0)))
}

func TestOverlapDetectorAgreesWithLinearScan(t *testing.T) {
	store := NewAvailabilityStore()
	detector := NewOverlapDetector(store)
	vet := uuid.New()

	// back to back 20 minute visits with 10 minute breaks, 08:00 to 18:00
	var bookings []Booking
	for start := at(8, 0, 8, 20); start.End.Before(at(18, 0, 18, 0).Start); {
		b := Booking{AppointmentID: uuid.New(), Interval: start}
		store.Insert(vet, b.Interval, b.AppointmentID)
		bookings = append(bookings, b)
		start = Interval{Start: start.Start.Add(30 * time.Minute), End: start.End.Add(30 * time.Minute)}
	}

	for startMin := 7 * 60; startMin < 19*60; startMin += 5 {
		for _, length := range []int{5, 10, 25, 90} {
			candidate := at(0, startMin, 0, startMin+length)

			var want []uuid.UUID
			for _, b := range bookings {
				if b.Interval.Overlaps(candidate) {
					want = append(want, b.AppointmentID)
				}
			}

			var got []uuid.UUID
			for _, b := range detector.Candidates(vet, candidate) {
				got = append(got, b.AppointmentID)
			}
			require.Equal(t, want, got, "candidate %v", candidate)

			_, conflict := detector.Conflicts(vet, candidate, nil)
			require.Equal(t, len(want) > 0, conflict)
		}
	}
}
