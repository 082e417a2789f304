package auth

import (
	"errors"
	"strings"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/tasks"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	MaxFailedLogins = 5
	LockoutDuration = 15 * time.Minute
)

type RegisterRequest struct {
	Email       string          `json:"email" validate:"required,email"`
	Password    string          `json:"password" validate:"required,min=8"`
	FirstName   string          `json:"first_name" validate:"required,max=255"`
	LastName    string          `json:"last_name" validate:"required,max=255"`
	PhoneNumber *string         `json:"phone_number" validate:"omitempty,phone"`
	Role        models.UserRole `json:"role" validate:"omitempty,oneof=customer agent agency_admin agency_staff"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// HashPassword is shared with the user management endpoints.
func HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func RegisterHandler(cfg *config.Config, pub tasks.Publisher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.Role == "" {
			body.Role = models.RoleCustomer
		}

		email := strings.ToLower(strings.TrimSpace(body.Email))
		var count int64
		database.DB.Model(&models.User{}).Where("email = ?", email).Count(&count)
		if count > 0 {
			return fiber.NewError(fiber.StatusConflict, "a user with this email already exists")
		}
		if body.PhoneNumber != nil {
			database.DB.Model(&models.User{}).Where("phone_number = ?", *body.PhoneNumber).Count(&count)
			if count > 0 {
				return fiber.NewError(fiber.StatusConflict, "a user with this phone number already exists")
			}
		}

		hash, err := HashPassword(body.Password)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not hash password")
		}

		user := models.User{
			Email:        email,
			FirstName:    body.FirstName,
			LastName:     body.LastName,
			PasswordHash: hash,
			Role:         body.Role,
			PhoneNumber:  body.PhoneNumber,
			IsActive:     true,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "a user with this email or phone number already exists")
			}
			logger.FromCtx(c).WithError(err).Error("user create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not create user")
		}
		RecordActivity(c, user.ID, models.ActivityAccountCreated, nil)
		if err := QueueVerificationEmail(c.UserContext(), cfg, pub, &user); err != nil {
			logger.FromCtx(c).WithError(err).WithField("user_id", user.ID).Warn("could not queue verification email")
		}

		tokens, err := GenerateTokenPair(cfg, &user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create token")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user":   user,
			"tokens": tokens,
		})
	}
}

func LoginHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		email := strings.ToLower(strings.TrimSpace(body.Email))

		var user models.User
		if err := database.DB.Where("email = ?", email).First(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
		}

		now := time.Now()
		if user.IsLocked(now) {
			return fiber.NewError(fiber.StatusForbidden, "account locked after too many failed attempts, try again later")
		}
		if !user.IsActive {
			return fiber.NewError(fiber.StatusForbidden, "account is disabled")
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
			registerFailedLogin(c, &user, now)
			return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
		}

		if err := database.DB.Model(&user).UpdateColumns(map[string]any{
			"failed_login_attempts": 0,
			"account_locked_until":  nil,
			"last_login":            now,
		}).Error; err != nil {
			logger.FromCtx(c).WithError(err).Warn("could not reset login counters")
		}
		RecordActivity(c, user.ID, models.ActivityLogin, nil)

		tokens, err := GenerateTokenPair(cfg, &user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create token")
		}
		return c.JSON(fiber.Map{
			"access":  tokens.Access,
			"refresh": tokens.Refresh,
			"user":    user,
		})
	}
}

func registerFailedLogin(c *fiber.Ctx, user *models.User, now time.Time) {
	updates := map[string]any{"failed_login_attempts": gorm.Expr("failed_login_attempts + 1")}
	if user.FailedLoginAttempts+1 >= MaxFailedLogins {
		updates["account_locked_until"] = now.Add(LockoutDuration)
		updates["failed_login_attempts"] = 0
		logger.FromCtx(c).WithField("user_id", user.ID).Warn("account locked after failed logins")
	}
	if err := database.DB.Model(user).UpdateColumns(updates).Error; err != nil {
		logger.FromCtx(c).WithError(err).Warn("could not record failed login")
	}
}

func RefreshHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RefreshRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		claims, err := ParseToken(cfg.JWTSecret, body.Refresh, TokenRefresh)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired refresh token")
		}

		var user models.User
		if err := database.DB.First(&user, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "user no longer exists")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "could not load user")
		}
		if !user.IsActive {
			return fiber.NewError(fiber.StatusForbidden, "account is disabled")
		}

		tokens, err := GenerateTokenPair(cfg, &user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create token")
		}
		return c.JSON(tokens)
	}
}

func LogoutHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if uid, ok := CurrentUserID(c); ok {
			RecordActivity(c, uid, models.ActivityLogout, nil)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func MeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := CurrentUserID(c)

		var user models.User
		err := database.DB.Preload("Agency").Preload("Licenses").Preload("Specializations").
			First(&user, uid).Error
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}

		resp := fiber.Map{
			"user":          user,
			"full_name":     user.FullName(),
			"service_areas": user.CombinedServiceAreas(),
		}
		if user.Agency != nil {
			resp["agency"] = fiber.Map{
				"id":       user.Agency.ID,
				"name":     user.Agency.Name,
				"verified": user.Agency.Verified,
			}
		}
		return c.JSON(resp)
	}
}
