package database

import (
	"github.com/chachabrian/campusride-backend/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Ride{},
		&models.Booking{},
		&models.Review{},
		&models.Message{},
		&models.UserBlock{},
		&models.UserReport{},
		&models.ChatLog{},
		&models.OTP{},
		&models.NotificationPreference{},
		&models.DriverLocation{},
	)
	if err != nil {
		return err
	}

	statements := []string{
		// At most one pending or confirmed booking per (ride, passenger).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_pair
			ON bookings (ride_id, passenger_id)
			WHERE status IN ('pending', 'confirmed') AND deleted_at IS NULL`,
		`ALTER TABLE bookings DROP CONSTRAINT IF EXISTS bookings_status_check`,
		`ALTER TABLE bookings ADD CONSTRAINT bookings_status_check
			CHECK (status IN ('pending', 'confirmed', 'cancelled', 'completed', 'rejected'))`,
		`ALTER TABLE rides DROP CONSTRAINT IF EXISTS rides_status_check`,
		`ALTER TABLE rides ADD CONSTRAINT rides_status_check
			CHECK (status IN ('active', 'full', 'completed', 'cancelled', 'expired'))`,
		`ALTER TABLE rides DROP CONSTRAINT IF EXISTS rides_seats_taken_check`,
		`ALTER TABLE rides ADD CONSTRAINT rides_seats_taken_check
			CHECK (seats_taken >= 0 AND seats_taken <= total_seats)`,
		`ALTER TABLE user_reports DROP CONSTRAINT IF EXISTS user_reports_status_check`,
		`ALTER TABLE user_reports ADD CONSTRAINT user_reports_status_check
			CHECK (status IN ('pending', 'reviewed', 'resolved'))`,
		`CREATE INDEX IF NOT EXISTS idx_rides_open_departure
			ON rides (departure_at) WHERE status IN ('active', 'full')`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}
