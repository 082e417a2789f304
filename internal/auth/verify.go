package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/tasks"

	"github.com/gofiber/fiber/v2"
)

// VerificationURL builds the link mailed to a new user.
func VerificationURL(cfg *config.Config, token string) string {
	return strings.TrimRight(cfg.PublicURL, "/") + "/api/auth/verify-email?token=" + url.QueryEscape(token)
}

// QueueVerificationEmail publishes an email.send job carrying a signed verification link.
func QueueVerificationEmail(ctx context.Context, cfg *config.Config, pub tasks.Publisher, user *models.User) error {
	token, err := GenerateToken(cfg.JWTSecret, user, TokenEmailVerify, EmailVerifyTTL)
	if err != nil {
		return err
	}
	name := user.FullName()
	if name == "" {
		name = user.Email
	}
	job, err := tasks.NewJob(tasks.JobSendEmail, tasks.Email{
		To:      user.Email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Hi %s,\n\nThanks for registering. Open the link below to verify your email address:\n%s\n\n"+
			"The link expires in %d hours. If you did not register, ignore this email.\n",
			name, VerificationURL(cfg, token), int(EmailVerifyTTL.Hours())),
	})
	if err != nil {
		return err
	}
	return pub.Publish(ctx, job)
}

// GET /api/auth/verify-email?token=...
func VerifyEmailTokenHandler(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := ParseToken(cfg.JWTSecret, c.Query("token"), TokenEmailVerify)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid or expired verification link")
		}

		var user models.User
		if err := database.DB.First(&user, claims.UserID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid or expired verification link")
		}
		// the link only proves the address it was sent to
		if user.Email != claims.Email {
			return fiber.NewError(fiber.StatusBadRequest, "verification link was issued for another address")
		}
		if user.EmailVerified {
			return c.JSON(fiber.Map{"status": "email already verified"})
		}

		err = database.DB.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]any{"email_verified": true, "email_verified_at": time.Now()}).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not verify email")
		}
		RecordActivity(c, user.ID, models.ActivityProfileUpdate, map[string]any{"email_verified": true})
		return c.JSON(fiber.Map{"status": "email verified"})
	}
}

// POST /api/auth/verify-email/resend
func ResendVerificationHandler(cfg *config.Config, pub tasks.Publisher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := CurrentUserID(c)
		var user models.User
		if err := database.DB.First(&user, uid).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		if user.EmailVerified {
			return fiber.NewError(fiber.StatusBadRequest, "email already verified")
		}
		if err := QueueVerificationEmail(c.UserContext(), cfg, pub, &user); err != nil {
			logger.FromCtx(c).WithError(err).Error("could not queue verification email")
			return fiber.NewError(fiber.StatusServiceUnavailable, "could not send verification email")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "verification email sent"})
	}
}
