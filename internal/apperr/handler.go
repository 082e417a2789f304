package apperr

import (
	"errors"

	"estate-backend/internal/logger"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// Handler is the fiber ErrorHandler: {"error": msg}, plus "fields" for validation failures.
func Handler(c *fiber.Ctx, err error) error {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	}
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return c.Status(ferr.Code).JSON(fiber.Map{
			"error": ferr.Message,
		})
	}
	logger.FromCtx(c).WithError(err).Error("unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "unexpected server error",
	})
}
