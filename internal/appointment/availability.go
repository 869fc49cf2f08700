package appointment

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Booking is an occupied interval on a veterinarian's calendar.
type Booking struct {
	AppointmentID uuid.UUID
	Interval      Interval
}

type calendar struct {
	mu       sync.RWMutex
	bookings []Booking // ordered by Interval.Start
	index    map[uuid.UUID]Interval
}

func newCalendar() *calendar {
	return &calendar{index: make(map[uuid.UUID]Interval)}
}

// AvailabilityStore keeps, per veterinarian, the intervals held by active
// appointments. It does not validate anything: the overlap detector is the
// only gate and the scheduler service the only writer.
type AvailabilityStore struct {
	mu        sync.Mutex
	calendars map[uuid.UUID]*calendar
}

func NewAvailabilityStore() *AvailabilityStore {
	return &AvailabilityStore{calendars: make(map[uuid.UUID]*calendar)}
}

func (s *AvailabilityStore) calendar(vetID uuid.UUID) *calendar {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calendars[vetID]
	if !ok {
		c = newCalendar()
		s.calendars[vetID] = c
	}
	return c
}

// IntervalsFor returns a copy of the veterinarian's bookings ordered by start.
func (s *AvailabilityStore) IntervalsFor(vetID uuid.UUID) []Booking {
	var out []Booking
	s.View(vetID, func(bookings []Booking) {
		out = append([]Booking(nil), bookings...)
	})
	return out
}

// Overlapping returns the veterinarian's bookings that intersect iv, ordered
// by start.
func (s *AvailabilityStore) Overlapping(vetID uuid.UUID, iv Interval) []Booking {
	var out []Booking
	s.View(vetID, func(bookings []Booking) {
		out = overlapping(bookings, iv, nil)
	})
	return out
}

func (s *AvailabilityStore) Insert(vetID uuid.UUID, iv Interval, appointmentID uuid.UUID) {
	_ = s.Apply([]uuid.UUID{vetID}, func(tx *CalendarTx) error {
		tx.Insert(vetID, iv, appointmentID)
		return nil
	})
}

func (s *AvailabilityStore) Remove(vetID uuid.UUID, appointmentID uuid.UUID) bool {
	var removed bool
	_ = s.Apply([]uuid.UUID{vetID}, func(tx *CalendarTx) error {
		removed = tx.Remove(vetID, appointmentID)
		return nil
	})
	return removed
}

// Replace swaps the whole calendar of a veterinarian, used when rehydrating
// from storage.
func (s *AvailabilityStore) Replace(vetID uuid.UUID, bookings []Booking) {
	_ = s.Apply([]uuid.UUID{vetID}, func(tx *CalendarTx) error {
		tx.replace(vetID, bookings)
		return nil
	})
}

// View runs fn with the veterinarian's bookings under a read lock. fn must
// not retain or modify the slice.
func (s *AvailabilityStore) View(vetID uuid.UUID, fn func(bookings []Booking)) {
	c := s.calendar(vetID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.bookings)
}

// Apply write-locks the calendars of the given veterinarians, in ascending
// id order, and runs fn. Readers never observe a half-applied fn.
func (s *AvailabilityStore) Apply(vetIDs []uuid.UUID, fn func(tx *CalendarTx) error) error {
	ids := sortedUnique(vetIDs)
	tx := &CalendarTx{calendars: make(map[uuid.UUID]*calendar, len(ids))}
	for _, id := range ids {
		c := s.calendar(id)
		c.mu.Lock()
		tx.calendars[id] = c
	}
	defer func() {
		for i := len(ids) - 1; i >= 0; i-- {
			tx.calendars[ids[i]].mu.Unlock()
		}
	}()
	return fn(tx)
}

// CalendarTx mutates calendars already locked by Apply.
type CalendarTx struct {
	calendars map[uuid.UUID]*calendar
}

func (tx *CalendarTx) get(vetID uuid.UUID) *calendar {
	c, ok := tx.calendars[vetID]
	if !ok {
		panic("appointment: calendar " + vetID.String() + " not locked by Apply")
	}
	return c
}

func (tx *CalendarTx) Bookings(vetID uuid.UUID) []Booking {
	return tx.get(vetID).bookings
}

func (tx *CalendarTx) Insert(vetID uuid.UUID, iv Interval, appointmentID uuid.UUID) {
	c := tx.get(vetID)
	if _, ok := c.index[appointmentID]; ok {
		c.remove(appointmentID)
	}
	i := sort.Search(len(c.bookings), func(i int) bool {
		return c.bookings[i].Interval.Start.After(iv.Start)
	})
	c.bookings = append(c.bookings, Booking{})
	copy(c.bookings[i+1:], c.bookings[i:])
	c.bookings[i] = Booking{AppointmentID: appointmentID, Interval: iv}
	c.index[appointmentID] = iv
}

func (tx *CalendarTx) Remove(vetID uuid.UUID, appointmentID uuid.UUID) bool {
	return tx.get(vetID).remove(appointmentID)
}

func (tx *CalendarTx) replace(vetID uuid.UUID, bookings []Booking) {
	c := tx.get(vetID)
	c.bookings = append([]Booking(nil), bookings...)
	sort.SliceStable(c.bookings, func(i, j int) bool {
		return c.bookings[i].Interval.Start.Before(c.bookings[j].Interval.Start)
	})
	c.index = make(map[uuid.UUID]Interval, len(bookings))
	for _, b := range c.bookings {
		c.index[b.AppointmentID] = b.Interval
	}
}

func (c *calendar) remove(appointmentID uuid.UUID) bool {
	iv, ok := c.index[appointmentID]
	if !ok {
		return false
	}
	i := sort.Search(len(c.bookings), func(i int) bool {
		return !c.bookings[i].Interval.Start.Before(iv.Start)
	})
	for ; i < len(c.bookings) && c.bookings[i].Interval.Start.Equal(iv.Start); i++ {
		if c.bookings[i].AppointmentID == appointmentID {
			c.bookings = append(c.bookings[:i], c.bookings[i+1:]...)
			delete(c.index, appointmentID)
			return true
		}
	}
	return false
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
