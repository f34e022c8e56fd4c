package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/chachabrian/campusride-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthDeps are shared by the account endpoints.
type AuthDeps struct {
	DB     *gorm.DB
	Tokens *utils.TokenIssuer
	Mailer *utils.Mailer
	// Guard enables login lockout; nil disables it.
	Guard        *services.LoginGuard
	EmailAllowed func(email string) bool
	Now          func() time.Time
}

func (d AuthDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type RegisterInput struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=8,max=72"`
	FullName     string `json:"fullName" binding:"required,min=2,max=100"`
	Phone        string `json:"phone" binding:"omitempty,max=20"`
	IsDriver     bool   `json:"isDriver"`
	VehicleMake  string `json:"vehicleMake" binding:"omitempty,max=50"`
	VehicleModel string `json:"vehicleModel" binding:"omitempty,max=50"`
	LicensePlate string `json:"licensePlate" binding:"omitempty,max=20"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type EmailInput struct {
	Email string `json:"email" binding:"required,email"`
}

type VerifyEmailInput struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6"`
}

type ResetPasswordInput struct {
	Email       string `json:"email" binding:"required,email"`
	OTP         string `json:"otp" binding:"required,len=6"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=72"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// passwordStrongEnough wants at least one letter and one digit.
func passwordStrongEnough(pw string) bool {
	var letter, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// issueOTP invalidates earlier unused codes of the same type and stores a new one.
func issueOTP(tx *gorm.DB, userID uint, typ models.OTPType, ttl time.Duration, now time.Time) (string, error) {
	code, err := utils.GenerateOTP()
	if err != nil {
		return "", err
	}
	err = tx.Model(&models.OTP{}).
		Where("user_id = ? AND type = ? AND used = ?", userID, typ, false).
		Update("used", true).Error
	if err != nil {
		return "", err
	}
	otp := models.OTP{UserID: userID, Code: code, Type: typ, ExpiresAt: now.Add(ttl)}
	if err := tx.Create(&otp).Error; err != nil {
		return "", err
	}
	return code, nil
}

// consumeOTP marks a matching valid code as used. It returns false when no such code
// exists or another request used it first.
func consumeOTP(tx *gorm.DB, userID uint, typ models.OTPType, code string, now time.Time) (bool, error) {
	res := tx.Model(&models.OTP{}).
		Where("user_id = ? AND code = ? AND type = ? AND used = ? AND expires_at > ?", userID, code, typ, false, now).
		Update("used", true)
	return res.RowsAffected > 0, res.Error
}

func authResponse(token string, user *models.User) gin.H {
	return gin.H{"token": token, "user": user}
}

// Register creates an account and emails a verification code. Without SMTP settings
// accounts start verified so local setups stay usable.
func Register(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RegisterInput
		if !bindJSON(c, &input) {
			return
		}
		email := normalizeEmail(input.Email)
		if d.EmailAllowed != nil && !d.EmailAllowed(email) {
			respondValidation(c, "email", "Please use your university email address")
			return
		}
		if !passwordStrongEnough(input.Password) {
			respondValidation(c, "password", "must contain at least one letter and one digit")
			return
		}

		mailOn := d.Mailer != nil && d.Mailer.Enabled()
		user := models.User{
			Email:        email,
			Password:     input.Password,
			FullName:     strings.TrimSpace(input.FullName),
			Phone:        strings.TrimSpace(input.Phone),
			IsDriver:     input.IsDriver,
			VehicleMake:  strings.TrimSpace(input.VehicleMake),
			VehicleModel: strings.TrimSpace(input.VehicleModel),
			LicensePlate: strings.TrimSpace(input.LicensePlate),
			IsVerified:   !mailOn,
			IsActive:     true,
		}
		if err := user.HashPassword(); err != nil {
			respondInternal(c, "Failed to hash password", err)
			return
		}

		var code string
		err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			if err := tx.Create(models.DefaultPreferences(user.ID)).Error; err != nil {
				return err
			}
			if !mailOn {
				return nil
			}
			var err error
			code, err = issueOTP(tx, user.ID, models.OTPTypeEmailVerification, utils.VerificationOTPExpiration, d.now())
			return err
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists", "kind": "duplicate_account"})
			return
		}
		if err != nil {
			respondInternal(c, "Failed to create account", err)
			return
		}

		if mailOn {
			if err := d.Mailer.SendVerificationEmail(user.Email, user.FirstName(), code); err != nil {
				respondInternal(c, "Account created but the verification email could not be sent. Use resend verification.", err)
				return
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"message":              "Account created",
			"user":                 user,
			"requiresVerification": !user.IsVerified,
		})
	}
}

// VerifyEmail consumes a verification code and logs the user in.
func VerifyEmail(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input VerifyEmailInput
		if !bindJSON(c, &input) {
			return
		}
		db := d.DB.WithContext(c.Request.Context())

		var user models.User
		if err := db.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification code", "kind": "validation_error"})
			return
		}
		if !user.IsVerified {
			ok, err := consumeOTP(db, user.ID, models.OTPTypeEmailVerification, input.OTP, d.now())
			if err != nil {
				respondInternal(c, "Failed to verify code", err)
				return
			}
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification code", "kind": "validation_error"})
				return
			}
			if err := db.Model(&user).Update("is_verified", true).Error; err != nil {
				respondInternal(c, "Failed to verify user", err)
				return
			}
			user.IsVerified = true
		}

		token, err := d.Tokens.GenerateToken(&user)
		if err != nil {
			respondInternal(c, "Failed to generate token", err)
			return
		}
		resp := authResponse(token, &user)
		resp["message"] = "Email verified successfully"
		c.JSON(http.StatusOK, resp)
	}
}

// ResendVerification always answers the same way so it cannot be used to probe
// which emails have accounts.
func ResendVerification(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input EmailInput
		if !bindJSON(c, &input) {
			return
		}
		const msg = "If the account exists and is unverified, a new code has been sent"
		db := d.DB.WithContext(c.Request.Context())

		var user models.User
		err := db.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error
		if err != nil || user.IsVerified || d.Mailer == nil || !d.Mailer.Enabled() {
			c.JSON(http.StatusOK, gin.H{"message": msg})
			return
		}
		code, err := issueOTP(db, user.ID, models.OTPTypeEmailVerification, utils.VerificationOTPExpiration, d.now())
		if err != nil {
			respondInternal(c, "Failed to generate verification code", err)
			return
		}
		if err := d.Mailer.SendVerificationEmail(user.Email, user.FirstName(), code); err != nil {
			respondInternal(c, "Failed to send verification email", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}

func Login(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LoginInput
		if !bindJSON(c, &input) {
			return
		}
		ctx := c.Request.Context()
		email := normalizeEmail(input.Email)

		if d.Guard != nil {
			wait, err := d.Guard.Locked(ctx, email)
			if err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			}
			if wait > 0 {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":      "Too many failed attempts. Try again later.",
					"retryAfter": int(wait.Seconds()),
				})
				return
			}
		}

		var user models.User
		err := d.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error
		if err == nil {
			err = user.CheckPassword(input.Password)
		}
		if err != nil {
			resp := gin.H{"error": "Invalid credentials"}
			if d.Guard != nil {
				left, gerr := d.Guard.Failed(ctx, email)
				if gerr != nil {
					_ = c.Error(gerr).SetType(gin.ErrorTypePrivate)
				} else {
					resp["attemptsLeft"] = left
				}
			}
			c.JSON(http.StatusUnauthorized, resp)
			return
		}

		if user.IsBanned {
			c.JSON(http.StatusForbidden, gin.H{"error": "Account is suspended"})
			return
		}
		if !user.IsVerified {
			c.JSON(http.StatusForbidden, gin.H{
				"error":                "Email verification required. Check your email or request a new code.",
				"requiresVerification": true,
				"email":                user.Email,
			})
			return
		}

		if d.Guard != nil {
			if err := d.Guard.Reset(ctx, email); err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			}
		}
		now := d.now()
		if err := d.DB.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
		}
		user.LastLogin = &now

		token, err := d.Tokens.GenerateToken(&user)
		if err != nil {
			respondInternal(c, "Failed to generate token", err)
			return
		}
		c.JSON(http.StatusOK, authResponse(token, &user))
	}
}

// ForgotPassword emails a reset code. Like ResendVerification it does not reveal
// whether the email is registered.
func ForgotPassword(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input EmailInput
		if !bindJSON(c, &input) {
			return
		}
		const msg = "If an account exists for this email, a reset code has been sent"
		if d.Mailer == nil || !d.Mailer.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Password reset by email is not available"})
			return
		}
		db := d.DB.WithContext(c.Request.Context())

		var user models.User
		if err := db.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error; err != nil {
			c.JSON(http.StatusOK, gin.H{"message": msg})
			return
		}
		code, err := issueOTP(db, user.ID, models.OTPTypePasswordReset, utils.PasswordResetExpiration, d.now())
		if err != nil {
			respondInternal(c, "Failed to generate reset code", err)
			return
		}
		if err := d.Mailer.SendPasswordResetEmail(user.Email, user.FirstName(), code); err != nil {
			respondInternal(c, "Failed to send reset email", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}

func ResetPassword(d AuthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ResetPasswordInput
		if !bindJSON(c, &input) {
			return
		}
		if !passwordStrongEnough(input.NewPassword) {
			respondValidation(c, "newPassword", "must contain at least one letter and one digit")
			return
		}

		invalidCode := gin.H{"error": "Invalid or expired reset code", "kind": "validation_error"}
		err := d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var user models.User
			if err := tx.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error; err != nil {
				return err
			}
			ok, err := consumeOTP(tx, user.ID, models.OTPTypePasswordReset, input.OTP, d.now())
			if err != nil {
				return err
			}
			if !ok {
				return gorm.ErrRecordNotFound
			}
			user.Password = input.NewPassword
			if err := user.HashPassword(); err != nil {
				return err
			}
			return tx.Model(&user).Update("password_hash", user.PasswordHash).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, invalidCode)
			return
		}
		if err != nil {
			respondInternal(c, "Failed to reset password", err)
			return
		}
		if d.Guard != nil {
			_ = d.Guard.Reset(c.Request.Context(), normalizeEmail(input.Email))
		}
		c.JSON(http.StatusOK, gin.H{"message": "Password reset successful"})
	}
}
