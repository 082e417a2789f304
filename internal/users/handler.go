package users

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/pagination"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserResponse struct {
	models.User
	FullName       string           `json:"full_name"`
	ActiveLicenses []models.License `json:"active_licenses,omitempty"`
}

func toUserResponse(u *models.User) UserResponse {
	resp := UserResponse{User: *u, FullName: u.FullName()}
	now := time.Now()
	for _, l := range u.Licenses {
		if l.Active(now) {
			resp.ActiveLicenses = append(resp.ActiveLicenses, l)
		}
	}
	return resp
}

type UpdateUserRequest struct {
	FirstName               *string        `json:"first_name" validate:"omitempty,min=1,max=255"`
	LastName                *string        `json:"last_name" validate:"omitempty,min=1,max=255"`
	PhoneNumber             *string        `json:"phone_number" validate:"omitempty,phone"`
	Bio                     *string        `json:"bio"`
	DateOfBirth             *string        `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	YearsOfExperience       *int           `json:"years_of_experience" validate:"omitempty,gte=0"`
	Languages               *[]string      `json:"languages"`
	ServiceAreas            *[]string      `json:"service_areas"`
	NotificationPreferences map[string]any `json:"notification_preferences"`

	// admin only
	Role           *models.UserRole   `json:"role" validate:"omitempty,oneof=customer agent agency_admin agency_staff admin"`
	IsActive       *bool              `json:"is_active"`
	AgencyID       *uint              `json:"agency_id"`
	AgencyRole     *models.AgencyRole `json:"agency_role" validate:"omitempty,oneof=agent manager admin owner"`
	AgencyVerified *bool              `json:"agency_verified"`
}

func (r *UpdateUserRequest) touchesAdminFields() bool {
	return r.Role != nil || r.IsActive != nil || r.AgencyID != nil || r.AgencyRole != nil || r.AgencyVerified != nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type RateAgentRequest struct {
	Score float64 `json:"score" validate:"required,gte=1,lte=5"`
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func loadUser(id uint) (*models.User, error) {
	var u models.User
	err := database.DB.Preload("Agency").Preload("Licenses").Preload("Specializations").First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load user")
	}
	return &u, nil
}

// loadVisibleUser loads :id when the caller is staff or the user themselves.
func loadVisibleUser(c *fiber.Ctx) (*models.User, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	if !auth.IsStaffOrSelf(c, id) {
		return nil, fiber.NewError(fiber.StatusForbidden, "only staff or the account owner can perform this action")
	}
	return loadUser(id)
}

// GET /api/users?role=agent&agency_id=1&search=...
func ListUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Model(&models.User{})
		if r := c.Query("role"); r != "" {
			dbq = dbq.Where("role = ?", r)
		}
		if aid := c.QueryInt("agency_id"); aid > 0 {
			dbq = dbq.Where("agency_id = ?", aid)
		}
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			dbq = dbq.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like, like)
		}

		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count users")
		}
		page := pagination.FromQuery(c)
		var list []models.User
		if err := page.Apply(dbq).Order("last_name, first_name").Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list users")
		}
		resp := make([]UserResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toUserResponse(&list[i]))
		}
		return c.JSON(pagination.NewResult(page, count, resp))
	}
}

// GET /api/users/:id
func GetUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := loadVisibleUser(c)
		if err != nil {
			return err
		}
		return c.JSON(toUserResponse(u))
	}
}

// PUT /api/users/:id
func UpdateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := loadVisibleUser(c)
		if err != nil {
			return err
		}
		var body UpdateUserRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.touchesAdminFields() && !auth.IsAdmin(c) {
			return fiber.NewError(fiber.StatusForbidden, "only admins can change role, status or agency")
		}

		if body.FirstName != nil {
			u.FirstName = *body.FirstName
		}
		if body.LastName != nil {
			u.LastName = *body.LastName
		}
		if body.PhoneNumber != nil {
			if u.PhoneNumber == nil || *u.PhoneNumber != *body.PhoneNumber {
				u.PhoneVerified = false
				u.PhoneVerifiedAt = nil
			}
			u.PhoneNumber = body.PhoneNumber
		}
		if body.Bio != nil {
			u.Bio = *body.Bio
		}
		if body.DateOfBirth != nil {
			dob, _ := time.Parse("2006-01-02", *body.DateOfBirth)
			u.DateOfBirth = &dob
		}
		if body.YearsOfExperience != nil {
			u.YearsOfExperience = body.YearsOfExperience
		}
		if body.Languages != nil {
			u.Languages = datatypes.JSONSlice[string](*body.Languages)
		}
		if body.ServiceAreas != nil {
			u.ServiceAreas = datatypes.JSONSlice[string](*body.ServiceAreas)
		}
		if body.NotificationPreferences != nil {
			u.NotificationPreferences = datatypes.JSONMap(body.NotificationPreferences)
		}
		if body.Role != nil {
			u.Role = *body.Role
		}
		if body.IsActive != nil {
			u.IsActive = *body.IsActive
		}
		if body.AgencyID != nil {
			if *body.AgencyID == 0 {
				u.AgencyID = nil
				u.AgencyRole = nil
			} else {
				var n int64
				database.DB.Model(&models.Agency{}).Where("id = ?", *body.AgencyID).Count(&n)
				if n == 0 {
					return fiber.NewError(fiber.StatusBadRequest, "agency not found")
				}
				u.AgencyID = body.AgencyID
			}
			u.Agency = nil
		}
		if body.AgencyRole != nil {
			u.AgencyRole = body.AgencyRole
		}
		if body.AgencyVerified != nil {
			u.AgencyVerified = *body.AgencyVerified
			if !u.AgencyVerified {
				u.AgencyVerifiedAt = nil
			}
		}

		if err := database.DB.Omit(clause.Associations).Save(u).Error; err != nil {
			if errors.Is(err, models.ErrAgencyNotAllowed) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			logger.FromCtx(c).WithError(err).WithField("user_id", u.ID).Error("user update failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not update user")
		}
		auth.RecordActivity(c, u.ID, models.ActivityProfileUpdate, nil)

		fresh, err := loadUser(u.ID)
		if err != nil {
			return err
		}
		return c.JSON(toUserResponse(fresh))
	}
}

// DELETE /api/users/:id
func DeleteUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := loadVisibleUser(c)
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(u).Association("Licenses").Clear(); err != nil {
				return err
			}
			if err := tx.Model(u).Association("Specializations").Clear(); err != nil {
				return err
			}
			if err := tx.Where("user_id = ? OR agent_id = ?", u.ID, u.ID).Delete(&models.UserFavorite{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", u.ID).Delete(&models.UserActivityLog{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.User{}, u.ID).Error
		})
		if err != nil {
			logger.FromCtx(c).WithError(err).WithField("user_id", u.ID).Warn("user delete failed")
			return fiber.NewError(fiber.StatusConflict, "user still owns listings, contracts or payments")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/users/:id/verify-email
func VerifyEmailHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := loadVisibleUser(c)
		if err != nil {
			return err
		}
		if u.EmailVerified {
			return c.JSON(fiber.Map{"status": "email already verified"})
		}
		now := time.Now()
		err = database.DB.Model(&models.User{}).Where("id = ?", u.ID).
			Updates(map[string]any{"email_verified": true, "email_verified_at": now}).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not verify email")
		}
		return c.JSON(fiber.Map{"status": "email verified"})
	}
}

// POST /api/users/:id/verify-phone
func VerifyPhoneHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := loadVisibleUser(c)
		if err != nil {
			return err
		}
		if u.PhoneNumber == nil || *u.PhoneNumber == "" {
			return fiber.NewError(fiber.StatusBadRequest, "no phone number on this account")
		}
		if u.PhoneVerified {
			return c.JSON(fiber.Map{"status": "phone already verified"})
		}
		now := time.Now()
		err = database.DB.Model(&models.User{}).Where("id = ?", u.ID).
			Updates(map[string]any{"phone_verified": true, "phone_verified_at": now}).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not verify phone")
		}
		return c.JSON(fiber.Map{"status": "phone verified"})
	}
}

// POST /api/users/me/password
func ChangePasswordHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		var body ChangePasswordRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}

		var u models.User
		if err := database.DB.Select("id", "password_hash").First(&u, uid).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(body.OldPassword)) != nil {
			return fiber.NewError(fiber.StatusBadRequest, "current password is incorrect")
		}
		hash, err := auth.HashPassword(body.NewPassword)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not hash password")
		}
		if err := database.DB.Model(&models.User{}).Where("id = ?", uid).UpdateColumn("password_hash", hash).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not change password")
		}
		auth.RecordActivity(c, uid, models.ActivityPasswordChange, nil)
		return c.JSON(fiber.Map{"status": "password changed"})
	}
}

// GET /api/agents?agency_id=1&specialization=3
// Public directory of active agents, best rated first.
func AgentDirectoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Model(&models.User{}).
			Where("role = ? AND is_active = ?", models.RoleAgent, true)
		if aid := c.QueryInt("agency_id"); aid > 0 {
			dbq = dbq.Where("agency_id = ?", aid)
		}
		if sid := c.QueryInt("specialization"); sid > 0 {
			dbq = dbq.Where("id IN (?)", database.DB.Table("user_specializations").
				Select("user_id").Where("specialization_id = ?", sid))
		}

		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count agents")
		}
		page := pagination.FromQuery(c)
		var list []models.User
		err := page.Apply(dbq).
			Preload("Agency").Preload("Licenses").Preload("Specializations").
			Order("rating IS NULL, rating DESC, id").
			Find(&list).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list agents")
		}

		resp := make([]UserResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toUserResponse(&list[i]))
		}
		return c.JSON(pagination.NewResult(page, count, resp))
	}
}

// POST /api/agents/:id/rate
func RateAgentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agentID, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var body RateAgentRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if uid, _ := auth.CurrentUserID(c); uid == agentID {
			return fiber.NewError(fiber.StatusBadRequest, "you cannot rate yourself")
		}

		var agent models.User
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("role = ?", models.RoleAgent).First(&agent, agentID).Error; err != nil {
				return err
			}
			agent.AddRating(decimal.NewFromFloat(body.Score))
			return tx.Model(&models.User{}).Where("id = ?", agent.ID).
				UpdateColumns(map[string]any{"rating": agent.Rating, "reviews_count": agent.ReviewsCount}).Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "agent not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "could not rate agent")
		}
		return c.JSON(fiber.Map{"rating": agent.Rating, "reviews_count": agent.ReviewsCount})
	}
}

// GET /api/users/me/activity
// Staff may pass user_id to read someone else's log.
func ActivityLogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		target := uid
		if other := c.QueryInt("user_id"); other > 0 && uint(other) != uid {
			if !auth.IsStaff(c) {
				return fiber.NewError(fiber.StatusForbidden, "staff access required")
			}
			target = uint(other)
		}

		dbq := database.DB.Model(&models.UserActivityLog{}).Where("user_id = ?", target)
		if a := c.Query("action"); a != "" {
			dbq = dbq.Where("action = ?", a)
		}
		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count activity")
		}
		page := pagination.FromQuery(c)
		var logs []models.UserActivityLog
		if err := page.Apply(dbq).Order("timestamp DESC").Order("id DESC").Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list activity")
		}
		return c.JSON(pagination.NewResult(page, count, logs))
	}
}
