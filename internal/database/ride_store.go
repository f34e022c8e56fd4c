package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RideStore is the postgres-backed ledger store. Each unit of work locks the ride row
// with SELECT ... FOR UPDATE and every seat mutation is a conditional UPDATE.
type RideStore struct {
	db *gorm.DB
}

var _ ledger.Store = (*RideStore)(nil)

func NewRideStore(db *gorm.DB) *RideStore {
	return &RideStore{db: db}
}

func rideStatuses(in []models.RideStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func bookingStatuses(in []models.BookingStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ledger.ErrNotFound, what, id)
	}
	return err
}

func (s *RideStore) WithRide(ctx context.Context, rideID uint, now time.Time, fn func(tx ledger.Tx, ride *models.Ride) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ride models.Ride
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ride, rideID).Error; err != nil {
			return notFound(err, "ride", rideID)
		}
		return fn(&gormTx{db: tx, rideID: rideID, now: now}, &ride)
	})
}

func (s *RideStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	if err := s.db.WithContext(ctx).First(&ride, id).Error; err != nil {
		return nil, notFound(err, "ride", id)
	}
	return &ride, nil
}

func (s *RideStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := s.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		return nil, notFound(err, "booking", id)
	}
	return &booking, nil
}

func (s *RideStore) CreateRide(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Create(ride).Error
}

func (s *RideStore) IsBlocked(ctx context.Context, a, b uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UserBlock{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

func (s *RideStore) MarkExpired(ctx context.Context, departedBefore, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Ride{}).
		Where("status IN ? AND departure_at < ?", rideStatuses(ledger.OpenRideStatuses()), departedBefore).
		Updates(map[string]interface{}{
			"status":     string(models.RideStatusExpired),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *RideStore) DeleteStale(ctx context.Context, updatedBefore time.Time) (ledger.DeleteCounts, error) {
	var counts ledger.DeleteCounts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Ride{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND updated_at < ?", string(models.RideStatusExpired), updatedBefore).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		var err error
		counts, err = deleteRides(tx, ids)
		return err
	})
	return counts, err
}

// deleteRides removes children before the ride rows.
func deleteRides(tx *gorm.DB, ids []uint) (ledger.DeleteCounts, error) {
	var counts ledger.DeleteCounts

	res := tx.Unscoped().Where("ride_id IN ?", ids).Delete(&models.Booking{})
	if res.Error != nil {
		return counts, res.Error
	}
	counts.Bookings = res.RowsAffected

	res = tx.Unscoped().Where("ride_id IN ?", ids).Delete(&models.Message{})
	if res.Error != nil {
		return counts, res.Error
	}
	counts.Messages = res.RowsAffected

	res = tx.Unscoped().Where("ride_id IN ?", ids).Delete(&models.Review{})
	if res.Error != nil {
		return counts, res.Error
	}
	counts.Reviews = res.RowsAffected

	if err := tx.Where("ride_id IN ?", ids).Delete(&models.DriverLocation{}).Error; err != nil {
		return counts, err
	}

	res = tx.Unscoped().Where("id IN ?", ids).Delete(&models.Ride{})
	if res.Error != nil {
		return counts, res.Error
	}
	counts.Rides = res.RowsAffected

	return counts, nil
}

type gormTx struct {
	db     *gorm.DB
	rideID uint
	now    time.Time
}

func (t *gormTx) Ride() (*models.Ride, error) {
	var ride models.Ride
	if err := t.db.First(&ride, t.rideID).Error; err != nil {
		return nil, notFound(err, "ride", t.rideID)
	}
	return &ride, nil
}

func (t *gormTx) FindBooking(id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := t.db.Where("ride_id = ?", t.rideID).First(&booking, id).Error; err != nil {
		return nil, notFound(err, "booking", id)
	}
	return &booking, nil
}

func (t *gormTx) ActiveBooking(passengerID uint) (*models.Booking, error) {
	var booking models.Booking
	err := t.db.Where("ride_id = ? AND passenger_id = ? AND status IN ?",
		t.rideID, passengerID, bookingStatuses(ledger.ActiveBookingStatuses())).
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (t *gormTx) CountBookings(statuses ...models.BookingStatus) (int64, error) {
	var count int64
	err := t.db.Model(&models.Booking{}).
		Where("ride_id = ? AND status IN ?", t.rideID, bookingStatuses(statuses)).
		Count(&count).Error
	return count, err
}

func (t *gormTx) InsertBooking(b *models.Booking) error {
	b.RideID = t.rideID
	b.CreatedAt, b.UpdatedAt = t.now, t.now
	// A savepoint keeps the outer transaction usable if the unique index rejects the row.
	err := t.db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(b).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: passenger %d already holds a booking on ride %d", ledger.ErrDuplicateBooking, b.PassengerID, t.rideID)
	}
	return err
}

func (t *gormTx) SetBookingStatus(id uint, from []models.BookingStatus, to models.BookingStatus) (bool, error) {
	res := t.db.Model(&models.Booking{}).
		Where("id = ? AND ride_id = ? AND status IN ?", id, t.rideID, bookingStatuses(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": t.now})
	return res.RowsAffected == 1, res.Error
}

func (t *gormTx) CascadeBookings(from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error) {
	var affected []models.Booking
	if err := t.db.Where("ride_id = ? AND status IN ?", t.rideID, bookingStatuses(from)).
		Order("id").Find(&affected).Error; err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, nil
	}
	ids := make([]uint, len(affected))
	for i, b := range affected {
		ids[i] = b.ID
	}
	err := t.db.Model(&models.Booking{}).
		Where("id IN ? AND status IN ?", ids, bookingStatuses(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": t.now}).Error
	return affected, err
}

func (t *gormTx) ReserveSeat() (bool, error) {
	res := t.db.Model(&models.Ride{}).
		Where("id = ? AND seats_taken < total_seats AND status IN ?", t.rideID, rideStatuses(ledger.OpenRideStatuses())).
		Updates(map[string]interface{}{
			"seats_taken": gorm.Expr("seats_taken + 1"),
			"status":      gorm.Expr("CASE WHEN seats_taken + 1 >= total_seats THEN ? ELSE status END", string(models.RideStatusFull)),
			"updated_at":  t.now,
		})
	return res.RowsAffected == 1, res.Error
}

func (t *gormTx) ReleaseSeats(n int) error {
	if n <= 0 {
		return nil
	}
	return t.db.Model(&models.Ride{}).
		Where("id = ?", t.rideID).
		Updates(map[string]interface{}{
			"seats_taken": gorm.Expr("GREATEST(seats_taken - ?, 0)", n),
			"status":      gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", string(models.RideStatusFull), string(models.RideStatusActive)),
			"updated_at":  t.now,
		}).Error
}

func (t *gormTx) SetRideStatus(from []models.RideStatus, to models.RideStatus) (bool, error) {
	res := t.db.Model(&models.Ride{}).
		Where("id = ? AND status IN ?", t.rideID, rideStatuses(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": t.now})
	return res.RowsAffected == 1, res.Error
}

func (t *gormTx) SaveRideDetails(ride *models.Ride) error {
	return t.db.Model(&models.Ride{}).
		Where("id = ?", t.rideID).
		Updates(map[string]interface{}{
			"origin":                     ride.Origin,
			"destination":                ride.Destination,
			"origin_lat":                 ride.OriginLat,
			"origin_lng":                 ride.OriginLng,
			"destination_lat":            ride.DestinationLat,
			"destination_lng":            ride.DestinationLng,
			"departure_date":             ride.DepartureDate,
			"departure_time":             ride.DepartureTime,
			"departure_at":               ride.DepartureAt,
			"total_seats":                ride.TotalSeats,
			"price_per_seat":             ride.PricePerSeat,
			"status":                     string(ride.Status),
			"distance_km":                ride.DistanceKm,
			"estimated_duration_minutes": ride.EstimatedDurationMinutes,
			"notes":                      ride.Notes,
			"vehicle_type":               ride.VehicleType,
			"luggage_allowed":            ride.LuggageAllowed,
			"pets_allowed":               ride.PetsAllowed,
			"smoking_allowed":            ride.SmokingAllowed,
			"music_allowed":              ride.MusicAllowed,
			"ac_available":               ride.ACAvailable,
			"updated_at":                 t.now,
		}).Error
}

func (t *gormTx) DeleteRide() (ledger.DeleteCounts, error) {
	return deleteRides(t.db, []uint{t.rideID})
}
