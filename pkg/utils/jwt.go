package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by API tokens.
type Claims struct {
	UserID   uint   `json:"id"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	IsDriver bool   `json:"isDriver"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (ti *TokenIssuer) GenerateToken(user *models.User) (string, error) {
	now := ti.now()
	claims := Claims{
		UserID:   user.ID,
		Email:    user.Email,
		IsAdmin:  user.IsAdmin,
		IsDriver: user.IsDriver,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

func (ti *TokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
