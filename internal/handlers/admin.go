package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type pageQuery struct {
	Q       string `form:"q"`
	Status  string `form:"status"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1"`
}

func (q *pageQuery) normalize() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
}

func (q pageQuery) offset() int { return (q.Page - 1) * q.PerPage }

// ListUsers searches accounts by name or email.
func ListUsers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageQuery
		if !bindQuery(c, &q) {
			return
		}
		q.normalize()

		query := db.WithContext(c.Request.Context()).Model(&models.User{})
		if s := strings.TrimSpace(q.Q); s != "" {
			like := "%" + escapeLike(s) + "%"
			query = query.Where("full_name ILIKE ? OR email ILIKE ?", like, like)
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondInternal(c, "Failed to fetch users", err)
			return
		}
		var users []models.User
		err := query.Order("created_at DESC").Offset(q.offset()).Limit(q.PerPage).Find(&users).Error
		if err != nil {
			respondInternal(c, "Failed to fetch users", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "page": q.Page, "perPage": q.PerPage})
	}
}

// setBanned flips is_banned. Admin accounts cannot be banned.
func setBanned(db *gorm.DB, banned bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var user models.User
		if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
			respondError(c, err)
			return
		}
		if banned && user.IsAdmin {
			respondError(c, fmt.Errorf("%w: admin accounts cannot be banned", ledger.ErrForbidden))
			return
		}
		if err := db.WithContext(ctx).Model(&user).Update("is_banned", banned).Error; err != nil {
			respondInternal(c, "Failed to update user", err)
			return
		}
		msg := "User unbanned"
		if banned {
			msg = "User banned"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg, "user": user})
	}
}

func BanUser(db *gorm.DB) gin.HandlerFunc   { return setBanned(db, true) }
func UnbanUser(db *gorm.DB) gin.HandlerFunc { return setBanned(db, false) }

// VerifyUser marks an account verified without an OTP.
func VerifyUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		res := db.WithContext(c.Request.Context()).Model(&models.User{}).
			Where("id = ?", id).
			Update("is_verified", true)
		if res.Error != nil {
			respondInternal(c, "Failed to verify user", res.Error)
			return
		}
		if res.RowsAffected == 0 {
			respondError(c, fmt.Errorf("%w: user %d", ledger.ErrNotFound, id))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User verified"})
	}
}

// DeleteUser soft-deletes an account and deactivates it.
func DeleteUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if id == c.GetUint("userId") {
			respondValidation(c, "id", "You cannot delete your own account")
			return
		}
		ctx := c.Request.Context()
		var user models.User
		if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
			respondError(c, err)
			return
		}
		if user.IsAdmin {
			respondError(c, fmt.Errorf("%w: admin accounts cannot be deleted", ledger.ErrForbidden))
			return
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&user).Updates(map[string]interface{}{"is_active": false, "fcm_token": ""}).Error; err != nil {
				return err
			}
			return tx.Delete(&user).Error
		})
		if err != nil {
			respondInternal(c, "Failed to delete user", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}

var rideStatuses = map[string]bool{
	string(models.RideStatusActive):    true,
	string(models.RideStatusFull):      true,
	string(models.RideStatusCompleted): true,
	string(models.RideStatusCancelled): true,
	string(models.RideStatusExpired):   true,
}

// ListAllRides lists rides in every status, optionally filtered by ?status=.
func ListAllRides(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageQuery
		if !bindQuery(c, &q) {
			return
		}
		q.normalize()
		if q.Status != "" && !rideStatuses[q.Status] {
			respondValidation(c, "status", "is not a ride status")
			return
		}

		query := db.WithContext(c.Request.Context()).Model(&models.Ride{})
		if q.Status != "" {
			query = query.Where("status = ?", q.Status)
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondInternal(c, "Failed to fetch rides", err)
			return
		}
		var rides []models.Ride
		err := query.Preload("Driver").
			Order("departure_at DESC").
			Offset(q.offset()).
			Limit(q.PerPage).
			Find(&rides).Error
		if err != nil {
			respondInternal(c, "Failed to fetch rides", err)
			return
		}
		out := make([]*rideView, 0, len(rides))
		for _, r := range rides {
			out = append(out, newRideView(r))
		}
		c.JSON(http.StatusOK, gin.H{"rides": out, "total": total, "page": q.Page, "perPage": q.PerPage})
	}
}

func ListReports(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageQuery
		if !bindQuery(c, &q) {
			return
		}
		q.normalize()

		query := db.WithContext(c.Request.Context()).Model(&models.UserReport{})
		if q.Status != "" {
			query = query.Where("status = ?", q.Status)
		}
		var reports []models.UserReport
		err := query.Preload("Reporter").Preload("ReportedUser").
			Order("created_at DESC").
			Offset(q.offset()).
			Limit(q.PerPage).
			Find(&reports).Error
		if err != nil {
			respondInternal(c, "Failed to fetch reports", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
	}
}

type reportUpdate struct {
	Status     string `json:"status" binding:"required,oneof=resolved reviewed"`
	AdminNotes string `json:"adminNotes" binding:"max=2000"`
}

// UpdateReport resolves or dismisses a report.
func UpdateReport(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input reportUpdate
		if !bindJSON(c, &input) {
			return
		}
		ctx := c.Request.Context()
		var report models.UserReport
		if err := db.WithContext(ctx).First(&report, id).Error; err != nil {
			respondError(c, err)
			return
		}
		err := db.WithContext(ctx).Model(&report).Updates(map[string]interface{}{
			"status":      models.ReportStatus(input.Status),
			"admin_notes": strings.TrimSpace(input.AdminNotes),
		}).Error
		if err != nil {
			respondInternal(c, "Failed to update report", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Report updated", "report": report})
	}
}

type statusCount struct {
	Status string
	Count  int64
}

func countByStatus(db *gorm.DB, model interface{}) (map[string]int64, error) {
	var rows []statusCount
	if err := db.Model(model).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// Stats summarises the platform for the admin dashboard.
func Stats(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx := db.WithContext(c.Request.Context())
		var users, drivers, reviews, pendingReports int64
		counts := []struct {
			query *gorm.DB
			dst   *int64
		}{
			{tx.Model(&models.User{}), &users},
			{tx.Model(&models.User{}).Where("is_driver = ?", true), &drivers},
			{tx.Model(&models.Review{}), &reviews},
			{tx.Model(&models.UserReport{}).Where("status = ?", models.ReportStatusPending), &pendingReports},
		}
		for _, q := range counts {
			if err := q.query.Count(q.dst).Error; err != nil {
				respondInternal(c, "Failed to load stats", err)
				return
			}
		}
		rides, err := countByStatus(tx, &models.Ride{})
		if err != nil {
			respondInternal(c, "Failed to load stats", err)
			return
		}
		bookings, err := countByStatus(tx, &models.Booking{})
		if err != nil {
			respondInternal(c, "Failed to load stats", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"users":          users,
			"drivers":        drivers,
			"rides":          rides,
			"bookings":       bookings,
			"reviews":        reviews,
			"pendingReports": pendingReports,
		})
	}
}

// ForceSweep runs the cleanup sweep now and reports what it changed.
func ForceSweep(sweeper *ledger.Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sweeper.Run(c.Request.Context())
		if err != nil {
			respondInternal(c, "Sweep failed", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
