package auth

import (
	"strings"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxUserIDKey   = "user_id"
	CtxUserRoleKey = "user_role"
	CtxAgencyIDKey = "agency_id"
)

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "authorization header missing")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "authorization header must be 'Bearer <token>'")
	}
	return parts[1], nil
}

func setLocals(c *fiber.Ctx, claims *JWTCustomClaims) {
	c.Locals(CtxUserIDKey, claims.UserID)
	c.Locals(CtxUserRoleKey, claims.Role)
	c.Locals(CtxAgencyIDKey, claims.AgencyID)
}

func JWTMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr, err := bearerToken(c)
		if err != nil {
			return err
		}
		claims, err := ParseToken(cfg.JWTSecret, tokenStr, TokenAccess)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		setLocals(c, claims)
		return c.Next()
	}
}

// OptionalJWT sets the user locals when a valid token is present and
// lets anonymous requests through otherwise.
func OptionalJWT(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) == "" {
			return c.Next()
		}
		tokenStr, err := bearerToken(c)
		if err != nil {
			return err
		}
		claims, err := ParseToken(cfg.JWTSecret, tokenStr, TokenAccess)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		setLocals(c, claims)
		return c.Next()
	}
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := CurrentRole(c)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "role information missing")
		}
		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "you do not have permission to perform this action")
	}
}

// RequireStaff allows admins and agency roles.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsStaff(c) {
			return fiber.NewError(fiber.StatusForbidden, "staff access required")
		}
		return c.Next()
	}
}

// TouchActivity stamps last_activity for authenticated requests.
// At most once a minute per user so reads don't turn into writes.
func TouchActivity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if uid, ok := CurrentUserID(c); ok {
			now := time.Now()
			res := database.DB.Model(&models.User{}).
				Where("id = ? AND (last_activity IS NULL OR last_activity < ?)", uid, now.Add(-time.Minute)).
				UpdateColumn("last_activity", now)
			if res.Error != nil {
				logger.FromCtx(c).WithError(res.Error).Warn("could not update last_activity")
			}
		}
		return err
	}
}

func CurrentUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(CtxUserIDKey).(uint)
	return id, ok && id != 0
}

func CurrentRole(c *fiber.Ctx) (models.UserRole, bool) {
	r, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	return r, ok
}

func CurrentAgencyID(c *fiber.Ctx) *uint {
	id, _ := c.Locals(CtxAgencyIDKey).(*uint)
	return id
}

func IsAdmin(c *fiber.Ctx) bool {
	r, ok := CurrentRole(c)
	return ok && r == models.RoleAdmin
}

func IsStaff(c *fiber.Ctx) bool {
	r, ok := CurrentRole(c)
	return ok && r.IsStaffRole()
}

// IsAdminOrSelf reports whether the caller is an admin or the user with id.
func IsAdminOrSelf(c *fiber.Ctx, id uint) bool {
	uid, ok := CurrentUserID(c)
	return IsAdmin(c) || (ok && uid == id)
}

// IsStaffOrSelf is the looser variant used for profile reads and verification.
func IsStaffOrSelf(c *fiber.Ctx, id uint) bool {
	uid, ok := CurrentUserID(c)
	return IsStaff(c) || (ok && uid == id)
}
