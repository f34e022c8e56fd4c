package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	OTPLength                 = 6
	PasswordResetExpiration   = time.Hour
	VerificationOTPExpiration = 24 * time.Hour
)

var otpMax = big.NewInt(1_000_000)

// GenerateOTP returns a zero-padded 6 digit code from crypto/rand.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}
