package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var statusByKind = map[ledger.Kind]int{
	ledger.KindNotFound:         http.StatusNotFound,
	ledger.KindForbidden:        http.StatusForbidden,
	ledger.KindInvalidState:     http.StatusConflict,
	ledger.KindCapacityExceeded: http.StatusConflict,
	ledger.KindDuplicateBooking: http.StatusConflict,
	ledger.KindRideUnavailable:  http.StatusConflict,
	ledger.KindValidation:       http.StatusBadRequest,
}

// respondError writes err as {"error", "kind"}. Internal errors are attached to the
// context for the request logger and answered with a generic message.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = fmt.Errorf("%w: %v", ledger.ErrNotFound, err)
	}
	kind := ledger.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "kind": ledger.KindInternal})
		return
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		body["error"] = ve.Message
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

// respondInternal hides err from the client and logs it with the request.
func respondInternal(c *gin.Context, message string, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message, "kind": ledger.KindInternal})
}

func respondValidation(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "field": field, "kind": ledger.KindValidation})
}

// bindJSON binds the body and answers 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}

func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		respondValidation(c, "", "Invalid request body")
		return
	}
	fe := verrs[0]
	respondValidation(c, lowerFirst(fe.Field()), fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "ridedate":
		return "must be a date in YYYY-MM-DD format"
	case "hhmm":
		return "must be a time in HH:MM format"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// idParam parses a positive numeric path parameter, answering 400 otherwise.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondValidation(c, name, "must be a positive integer")
		return 0, false
	}
	return uint(id), true
}
