package handlers

import (
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("ridedate", layoutValidator(models.DateLayout))
		_ = v.RegisterValidation("hhmm", layoutValidator(models.TimeLayout))
	}
}

// layoutValidator accepts strings that parse with layout and round-trip exactly, so
// "2026-3-1" and "7:05" are refused.
func layoutValidator(layout string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		t, err := time.Parse(layout, s)
		return err == nil && t.Format(layout) == s
	}
}
