package auth

import (
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// RecordActivity appends an activity entry for userID. Failures are logged, not returned.
func RecordActivity(c *fiber.Ctx, userID uint, action models.ActivityAction, details map[string]any) {
	entry := models.UserActivityLog{
		UserID:    userID,
		Action:    action,
		Details:   datatypes.JSONMap(details),
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
	if err := database.DB.Create(&entry).Error; err != nil {
		logger.FromCtx(c).WithError(err).WithField("action", action).Warn("could not record activity")
	}
}
