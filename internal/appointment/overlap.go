package appointment

import (
	"sort"

	"github.com/google/uuid"
)

// OverlapDetector decides whether a candidate interval collides with a
// veterinarian's active bookings. It never mutates the store.
type OverlapDetector struct {
	store *AvailabilityStore
}

func NewOverlapDetector(store *AvailabilityStore) *OverlapDetector {
	return &OverlapDetector{store: store}
}

// Conflicts returns the id of the first booking overlapping candidate,
// skipping exclude when it is set.
func (d *OverlapDetector) Conflicts(vetID uuid.UUID, candidate Interval, exclude *uuid.UUID) (uuid.UUID, bool) {
	var (
		id    uuid.UUID
		found bool
	)
	d.store.View(vetID, func(bookings []Booking) {
		id, found = firstConflict(bookings, candidate, exclude)
	})
	return id, found
}

// Candidates returns every booking overlapping candidate.
func (d *OverlapDetector) Candidates(vetID uuid.UUID, candidate Interval) []Booking {
	return d.store.Overlapping(vetID, candidate)
}

func firstConflict(bookings []Booking, candidate Interval, exclude *uuid.UUID) (uuid.UUID, bool) {
	lo, hi := overlapRange(bookings, candidate)
	for i := lo; i < hi; i++ {
		b := bookings[i]
		if exclude != nil && b.AppointmentID == *exclude {
			continue
		}
		if b.Interval.Overlaps(candidate) {
			return b.AppointmentID, true
		}
	}
	return uuid.Nil, false
}

func overlapping(bookings []Booking, candidate Interval, exclude *uuid.UUID) []Booking {
	var out []Booking
	lo, hi := overlapRange(bookings, candidate)
	for i := lo; i < hi; i++ {
		b := bookings[i]
		if exclude != nil && b.AppointmentID == *exclude {
			continue
		}
		if b.Interval.Overlaps(candidate) {
			out = append(out, b)
		}
	}
	return out
}

// overlapRange narrows bookings to the index window that can intersect
// candidate. Active bookings never overlap each other, so ordering by start
// also orders them by end and both bounds are binary searches.
func overlapRange(bookings []Booking, candidate Interval) (int, int) {
	lo := sort.Search(len(bookings), func(i int) bool {
		return bookings[i].Interval.End.After(candidate.Start)
	})
	hi := sort.Search(len(bookings), func(i int) bool {
		return !bookings[i].Interval.Start.Before(candidate.End)
	})
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
