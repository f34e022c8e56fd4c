package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
)

// MemoryStore is an in-process ledger store. A WithRide unit works on staged copies of
// the ride and its bookings and publishes them only when the unit succeeds. Lock order
// is always ride lock, then the table lock.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   uint
	rides    map[uint]*models.Ride
	bookings map[uint]*models.Booking
	messages map[uint]*models.Message
	reviews  map[uint]*models.Review
	blocks   map[[2]uint]struct{}

	locksMu   sync.Mutex
	rideLocks map[uint]*sync.Mutex
}

var _ ledger.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[uint]*models.Ride),
		bookings:  make(map[uint]*models.Booking),
		messages:  make(map[uint]*models.Message),
		reviews:   make(map[uint]*models.Review),
		blocks:    make(map[[2]uint]struct{}),
		rideLocks: make(map[uint]*sync.Mutex),
	}
}

// dropLock forgets the mutex of a ride that no longer exists. IDs are never reused, so
// a goroutine still queued on the old mutex only finds the ride missing.
func (s *MemoryStore) dropLock(id uint) {
	s.locksMu.Lock()
	delete(s.rideLocks, id)
	s.locksMu.Unlock()
}

func (s *MemoryStore) rideLock(id uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.rideLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rideLocks[id] = l
	}
	return l
}

// allocID must be called with s.mu held.
func (s *MemoryStore) allocID() uint {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) WithRide(ctx context.Context, rideID uint, now time.Time, fn func(tx ledger.Tx, ride *models.Ride) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.rideLock(rideID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	stored, ok := s.rides[rideID]
	if !ok {
		s.mu.Unlock()
		s.dropLock(rideID)
		return fmt.Errorf("%w: ride %d", ledger.ErrNotFound, rideID)
	}
	tx := &memoryTx{
		store:    s,
		now:      now,
		ride:     *stored,
		bookings: make(map[uint]*models.Booking),
	}
	for id, b := range s.bookings {
		if b.RideID == rideID {
			cp := *b
			tx.bookings[id] = &cp
		}
	}
	s.mu.Unlock()

	view := tx.ride
	if err := fn(tx, &view); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetRide(_ context.Context, id uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %d", ledger.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %d", ledger.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) CreateRide(_ context.Context, ride *models.Ride) error {
	s.PutRide(ride)
	return nil
}

func (s *MemoryStore) IsBlocked(_ context.Context, a, b uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ab := s.blocks[[2]uint{a, b}]
	_, ba := s.blocks[[2]uint{b, a}]
	return ab || ba, nil
}

func (s *MemoryStore) MarkExpired(ctx context.Context, departedBefore, now time.Time) (int64, error) {
	var n int64
	for _, id := range s.rideIDs() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		lock := s.rideLock(id)
		lock.Lock()
		s.mu.Lock()
		if r, ok := s.rides[id]; ok && r.IsOpen() && r.DepartureAt.Before(departedBefore) {
			r.Status = models.RideStatusExpired
			r.UpdatedAt = now
			n++
		}
		s.mu.Unlock()
		lock.Unlock()
	}
	return n, nil
}

func (s *MemoryStore) DeleteStale(ctx context.Context, updatedBefore time.Time) (ledger.DeleteCounts, error) {
	var counts ledger.DeleteCounts
	for _, id := range s.rideIDs() {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		lock := s.rideLock(id)
		lock.Lock()
		s.mu.Lock()
		if r, ok := s.rides[id]; ok && r.Status == models.RideStatusExpired && r.UpdatedAt.Before(updatedBefore) {
			counts.Add(s.deleteRideLocked(id))
		}
		s.mu.Unlock()
		lock.Unlock()
	}
	return counts, nil
}

func (s *MemoryStore) rideIDs() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.rides))
	for id := range s.rides {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// deleteRideLocked must be called with s.mu held.
func (s *MemoryStore) deleteRideLocked(rideID uint) ledger.DeleteCounts {
	counts := s.childCountsLocked(rideID)
	for id, b := range s.bookings {
		if b.RideID == rideID {
			delete(s.bookings, id)
		}
	}
	for id, m := range s.messages {
		if m.RideID != nil && *m.RideID == rideID {
			delete(s.messages, id)
		}
	}
	for id, r := range s.reviews {
		if r.RideID == rideID {
			delete(s.reviews, id)
		}
	}
	if _, ok := s.rides[rideID]; ok {
		delete(s.rides, rideID)
		counts.Rides = 1
	}
	s.dropLock(rideID)
	return counts
}

func (s *MemoryStore) childCountsLocked(rideID uint) ledger.DeleteCounts {
	var counts ledger.DeleteCounts
	for _, b := range s.bookings {
		if b.RideID == rideID {
			counts.Bookings++
		}
	}
	for _, m := range s.messages {
		if m.RideID != nil && *m.RideID == rideID {
			counts.Messages++
		}
	}
	for _, r := range s.reviews {
		if r.RideID == rideID {
			counts.Reviews++
		}
	}
	return counts
}

// PutRide stores a copy of ride, assigning an ID if it has none.
func (s *MemoryStore) PutRide(ride *models.Ride) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ride.ID == 0 {
		ride.ID = s.allocID()
	} else if ride.ID > s.nextID {
		s.nextID = ride.ID
	}
	if ride.CreatedAt.IsZero() {
		ride.CreatedAt = time.Now()
	}
	if ride.UpdatedAt.IsZero() {
		ride.UpdatedAt = ride.CreatedAt
	}
	cp := *ride
	s.rides[ride.ID] = &cp
	return ride.ID
}

// PutBooking stores a copy of b as-is without touching the ride's seat count.
func (s *MemoryStore) PutBooking(b *models.Booking) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.allocID()
	} else if b.ID > s.nextID {
		s.nextID = b.ID
	}
	cp := *b
	s.bookings[b.ID] = &cp
	return b.ID
}

func (s *MemoryStore) AddMessage(m *models.Message) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.allocID()
	cp := *m
	s.messages[m.ID] = &cp
	return m.ID
}

func (s *MemoryStore) AddReview(r *models.Review) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.allocID()
	cp := *r
	s.reviews[r.ID] = &cp
	return r.ID
}

func (s *MemoryStore) Block(blockerID, blockedID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[[2]uint{blockerID, blockedID}] = struct{}{}
}

// Ride returns a copy of the committed ride.
func (s *MemoryStore) Ride(id uint) (models.Ride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, false
	}
	return *r, true
}

// Bookings returns the committed bookings of a ride ordered by ID.
func (s *MemoryStore) Bookings(rideID uint) []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.RideID == rideID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts reports the child rows still attached to a ride.
func (s *MemoryStore) Counts(rideID uint) ledger.DeleteCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.childCountsLocked(rideID)
	if _, ok := s.rides[rideID]; ok {
		counts.Rides = 1
	}
	return counts
}

type memoryTx struct {
	store    *MemoryStore
	now      time.Time
	ride     models.Ride
	bookings map[uint]*models.Booking
	deleted  bool
}

func (t *memoryTx) Ride() (*models.Ride, error) {
	if t.deleted {
		return nil, fmt.Errorf("%w: ride %d", ledger.ErrNotFound, t.ride.ID)
	}
	cp := t.ride
	return &cp, nil
}

func (t *memoryTx) FindBooking(id uint) (*models.Booking, error) {
	b, ok := t.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %d", ledger.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (t *memoryTx) ActiveBooking(passengerID uint) (*models.Booking, error) {
	for _, id := range t.bookingIDs() {
		b := t.bookings[id]
		if b.PassengerID == passengerID && !b.Status.IsTerminal() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) CountBookings(statuses ...models.BookingStatus) (int64, error) {
	var n int64
	for _, b := range t.bookings {
		if hasStatus(b.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertBooking(b *models.Booking) error {
	for _, existing := range t.bookings {
		if existing.PassengerID == b.PassengerID && !existing.Status.IsTerminal() && !b.Status.IsTerminal() {
			return fmt.Errorf("%w: passenger %d already holds a booking on ride %d", ledger.ErrDuplicateBooking, b.PassengerID, t.ride.ID)
		}
	}
	t.store.mu.Lock()
	b.ID = t.store.allocID()
	t.store.mu.Unlock()
	b.RideID = t.ride.ID
	b.CreatedAt, b.UpdatedAt = t.now, t.now
	cp := *b
	t.bookings[b.ID] = &cp
	return nil
}

func (t *memoryTx) SetBookingStatus(id uint, from []models.BookingStatus, to models.BookingStatus) (bool, error) {
	b, ok := t.bookings[id]
	if !ok || !hasStatus(b.Status, from) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = t.now
	return true, nil
}

func (t *memoryTx) CascadeBookings(from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error) {
	var affected []models.Booking
	for _, id := range t.bookingIDs() {
		b := t.bookings[id]
		if !hasStatus(b.Status, from) {
			continue
		}
		affected = append(affected, *b)
		b.Status = to
		b.UpdatedAt = t.now
	}
	return affected, nil
}

func (t *memoryTx) ReserveSeat() (bool, error) {
	if !t.ride.IsOpen() || t.ride.SeatsTaken >= t.ride.TotalSeats {
		return false, nil
	}
	t.ride.SeatsTaken++
	if t.ride.SeatsTaken >= t.ride.TotalSeats {
		t.ride.Status = models.RideStatusFull
	}
	t.ride.UpdatedAt = t.now
	return true, nil
}

func (t *memoryTx) ReleaseSeats(n int) error {
	if n <= 0 {
		return nil
	}
	t.ride.SeatsTaken -= n
	if t.ride.SeatsTaken < 0 {
		t.ride.SeatsTaken = 0
	}
	if t.ride.Status == models.RideStatusFull {
		t.ride.Status = models.RideStatusActive
	}
	t.ride.UpdatedAt = t.now
	return nil
}

func (t *memoryTx) SetRideStatus(from []models.RideStatus, to models.RideStatus) (bool, error) {
	for _, s := range from {
		if t.ride.Status == s {
			t.ride.Status = to
			t.ride.UpdatedAt = t.now
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) SaveRideDetails(ride *models.Ride) error {
	seats, created := t.ride.SeatsTaken, t.ride.CreatedAt
	t.ride = *ride
	t.ride.SeatsTaken = seats
	t.ride.CreatedAt = created
	t.ride.UpdatedAt = t.now
	return nil
}

func (t *memoryTx) DeleteRide() (ledger.DeleteCounts, error) {
	t.store.mu.Lock()
	counts := t.store.childCountsLocked(t.ride.ID)
	t.store.mu.Unlock()

	// Bookings inserted in this unit are not visible to the store yet.
	counts.Bookings = int64(len(t.bookings))
	counts.Rides = 1
	t.deleted = true
	return counts, nil
}

func (t *memoryTx) bookingIDs() []uint {
	ids := make([]uint, 0, len(t.bookings))
	for id := range t.bookings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.deleted {
		s.deleteRideLocked(t.ride.ID)
		return
	}
	ride := t.ride
	s.rides[ride.ID] = &ride
	for id, b := range t.bookings {
		cp := *b
		s.bookings[id] = &cp
	}
}

func hasStatus(s models.BookingStatus, in []models.BookingStatus) bool {
	for _, v := range in {
		if s == v {
			return true
		}
	}
	return false
}
