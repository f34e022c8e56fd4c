package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLocker struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
	keys  []string
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.keys = append(l.keys, key)
	return l.ok, l.err
}

func sweepConfig() ledger.SweepConfig {
	return ledger.SweepConfig{
		Interval:  time.Hour,
		Grace:     30 * time.Minute,
		Retention: 24 * time.Hour,
	}
}

func TestSweepExpiresThenDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(3)
	confirmed := f.confirm(t, rideID, alice)
	pending := f.request(t, rideID, bob)
	rid := rideID
	f.store.AddMessage(&models.Message{SenderID: bob, ReceiverID: driverID, RideID: &rid, Content: "on my way"})
	f.store.AddReview(&models.Review{ReviewerID: alice, ReviewedUserID: driverID, RideID: rideID, Rating: 5})
	other := f.openRide(2)

	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	departure := f.ride(t, rideID).DepartureAt

	// Inside the grace window nothing changes.
	res, err := sweeper.RunAt(ctx, departure.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, models.RideStatusActive, f.ride(t, rideID).Status)

	expiredAt := departure.Add(31 * time.Minute)
	res, err = sweeper.RunAt(ctx, expiredAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Expired)
	assert.Equal(t, ledger.DeleteCounts{}, res.Deleted)

	r := f.ride(t, rideID)
	assert.Equal(t, models.RideStatusExpired, r.Status)
	assert.Equal(t, expiredAt, r.UpdatedAt)
	assert.Equal(t, 1, r.SeatsTaken)

	// Bookings are left as they were when the ride expired.
	b, err := f.store.GetBooking(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, b.Status)
	b, err = f.store.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)

	_, err = f.svc.ApproveBooking(ctx, driver, pending.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = f.svc.RequestBooking(ctx, passenger(carol), rideID)
	assert.ErrorIs(t, err, ledger.ErrRideUnavailable)

	res, err = sweeper.RunAt(ctx, expiredAt.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Deleted.Rides)

	res, err = sweeper.RunAt(ctx, expiredAt.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, int64(2), res.Deleted.Rides)
	assert.Equal(t, int64(2), res.Deleted.Bookings)
	assert.Equal(t, int64(1), res.Deleted.Messages)
	assert.Equal(t, int64(1), res.Deleted.Reviews)

	_, ok := f.store.Ride(rideID)
	assert.False(t, ok)
	_, ok = f.store.Ride(other)
	assert.False(t, ok)
	assert.Equal(t, ledger.DeleteCounts{}, f.store.Counts(rideID))
}

func TestPendingBookingWithdrawnAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(3)
	confirmed := f.confirm(t, rideID, alice)
	pending := f.request(t, rideID, bob)

	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	expiredAt := f.ride(t, rideID).DepartureAt.Add(time.Hour)
	res, err := sweeper.RunAt(ctx, expiredAt)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Expired)

	got, err := f.svc.CancelBooking(ctx, passenger(bob), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, got.Status)

	// the confirmed seat stays taken on the expired ride
	_, err = f.svc.CancelBooking(ctx, passenger(alice), confirmed.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	r := f.ride(t, rideID)
	assert.Equal(t, models.RideStatusExpired, r.Status)
	assert.Equal(t, 1, r.SeatsTaken)
	f.assertSeats(t, rideID)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rideID := f.openRide(2)
	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	now := f.ride(t, rideID).DepartureAt.Add(time.Hour)

	first, err := sweeper.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Expired)

	second, err := sweeper.RunAt(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, second.Expired)
	assert.Equal(t, ledger.DeleteCounts{}, second.Deleted)
	assert.Equal(t, models.RideStatusExpired, f.ride(t, rideID).Status)
}

func TestSweepLeavesClosedRidesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cancelled := f.openRide(2)
	completed := f.openRide(2)
	_, err := f.svc.CancelRide(ctx, driver, cancelled)
	require.NoError(t, err)
	_, err = f.svc.CompleteRide(ctx, driver, completed)
	require.NoError(t, err)

	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	res, err := sweeper.RunAt(ctx, t0.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Zero(t, res.Deleted.Rides)
	assert.Equal(t, models.RideStatusCancelled, f.ride(t, cancelled).Status)
	assert.Equal(t, models.RideStatusCompleted, f.ride(t, completed).Status)
}

func TestSweepFullRideExpires(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(1)
	f.confirm(t, rideID, alice)
	require.Equal(t, models.RideStatusFull, f.ride(t, rideID).Status)

	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	res, err := sweeper.RunAt(context.Background(), t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, models.RideStatusExpired, f.ride(t, rideID).Status)
}

func TestTickHonoursInterval(t *testing.T) {
	f := newFixture(t)
	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)
	ctx := context.Background()

	assert.True(t, sweeper.LastRun().IsZero())
	assert.True(t, sweeper.Due())
	_, ran := sweeper.Tick(ctx)
	assert.True(t, ran)
	assert.Equal(t, t0, sweeper.LastRun())

	f.clock.Advance(59 * time.Minute)
	assert.False(t, sweeper.Due())
	_, ran = sweeper.Tick(ctx)
	assert.False(t, ran)

	f.clock.Advance(time.Minute)
	_, ran = sweeper.Tick(ctx)
	assert.True(t, ran)
}

func TestTickExpiresDepartedRides(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(2)
	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)

	f.clock.Set(t0.Add(49 * time.Hour))
	res, ran := sweeper.Tick(context.Background())
	require.True(t, ran)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, models.RideStatusExpired, f.ride(t, rideID).Status)
}

func TestRunIgnoresIntervalAndLocker(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(2)
	locker := &stubLocker{ok: false}
	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, locker, nil)
	ctx := context.Background()

	_, ran := sweeper.Tick(ctx)
	assert.False(t, ran)

	f.clock.Set(t0.Add(49 * time.Hour))
	res, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, t0.Add(49*time.Hour), sweeper.LastRun())
	assert.Equal(t, models.RideStatusExpired, f.ride(t, rideID).Status)
	assert.Equal(t, 1, locker.calls)
}

func TestTickUsesLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("held elsewhere", func(t *testing.T) {
		f := newFixture(t)
		rideID := f.openRide(2)
		f.clock.Set(t0.Add(49 * time.Hour))
		locker := &stubLocker{ok: false}
		sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, locker, nil)

		_, ran := sweeper.Tick(ctx)
		assert.False(t, ran)
		assert.Equal(t, 1, locker.calls)
		assert.Equal(t, []string{"ledger:sweep"}, locker.keys)
		assert.Equal(t, models.RideStatusActive, f.ride(t, rideID).Status)
	})

	t.Run("acquired", func(t *testing.T) {
		f := newFixture(t)
		f.openRide(2)
		f.clock.Set(t0.Add(49 * time.Hour))
		sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, &stubLocker{ok: true}, nil)

		res, ran := sweeper.Tick(ctx)
		assert.True(t, ran)
		assert.Equal(t, int64(1), res.Expired)
	})

	t.Run("lock backend down", func(t *testing.T) {
		f := newFixture(t)
		f.openRide(2)
		f.clock.Set(t0.Add(49 * time.Hour))
		sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, &stubLocker{err: errors.New("dial tcp: refused")}, nil)

		res, ran := sweeper.Tick(ctx)
		assert.True(t, ran)
		assert.Equal(t, int64(1), res.Expired)
	})
}

type failingSweepStore struct{ calls int }

func (s *failingSweepStore) MarkExpired(context.Context, time.Time, time.Time) (int64, error) {
	s.calls++
	return 0, errors.New("connection reset")
}

func (s *failingSweepStore) DeleteStale(context.Context, time.Time) (ledger.DeleteCounts, error) {
	return ledger.DeleteCounts{}, nil
}

func TestTickSwallowsErrors(t *testing.T) {
	clock := ledger.NewFixedClock(t0)
	store := &failingSweepStore{}
	sweeper := ledger.NewSweeper(store, sweepConfig(), clock, nil, nil)

	_, ran := sweeper.Tick(context.Background())
	assert.True(t, ran)
	assert.Equal(t, t0, sweeper.LastRun())

	_, ran = sweeper.Tick(context.Background())
	assert.False(t, ran)

	clock.Advance(time.Hour)
	_, ran = sweeper.Tick(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 2, store.calls)
}

func TestSweepConfigDefaults(t *testing.T) {
	sweeper := ledger.NewSweeper(&failingSweepStore{}, ledger.SweepConfig{}, nil, nil, nil)
	cfg := sweeper.Config()
	assert.Equal(t, ledger.DefaultSweepInterval, cfg.Interval)
	assert.Equal(t, ledger.DefaultSweepGrace, cfg.Grace)
	assert.Equal(t, ledger.DefaultSweepRetention, cfg.Retention)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	rideID := f.openRide(2)
	f.clock.Set(t0.Add(49 * time.Hour))
	sweeper := ledger.NewSweeper(f.store, sweepConfig(), f.clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ledger.NewScheduler(sweeper, time.Millisecond).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		r, _ := f.store.Ride(rideID)
		return r.Status == models.RideStatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
