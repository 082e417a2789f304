package auth

import (
	"errors"
	"fmt"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenAccess      TokenType = "access"
	TokenRefresh     TokenType = "refresh"
	TokenEmailVerify TokenType = "email_verify"
)

const EmailVerifyTTL = 48 * time.Hour

var ErrWrongTokenType = errors.New("wrong token type")

type JWTCustomClaims struct {
	UserID   uint            `json:"user_id"`
	Email    string          `json:"email"`
	Role     models.UserRole `json:"role"`
	AgencyID *uint           `json:"agency_id"`
	Type     TokenType       `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func GenerateToken(secret string, user *models.User, typ TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		AgencyID: user.AgencyID,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateTokenPair issues an access and a refresh token for user.
func GenerateTokenPair(cfg *config.Config, user *models.User) (TokenPair, error) {
	access, err := GenerateToken(cfg.JWTSecret, user, TokenAccess, cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := GenerateToken(cfg.JWTSecret, user, TokenRefresh, cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// ParseToken verifies signature and expiry and checks the token type.
func ParseToken(secret, tokenStr string, want TokenType) (*JWTCustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &JWTCustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*JWTCustomClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
