package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Features lists which optional integrations this process was started with.
type Features struct {
	Redis        bool `json:"redis"`
	Push         bool `json:"push"`
	Email        bool `json:"email"`
	S3           bool `json:"s3"`
	Maps         bool `json:"maps"`
	Assistant    bool `json:"assistant"`
	EventStream  bool `json:"eventStream"`
	DomainLocked bool `json:"universityDomainRequired"`
}

// Health pings the database.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
	}
}

func GetFeatures(f Features) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, f)
	}
}
