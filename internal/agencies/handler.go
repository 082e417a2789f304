package agencies

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"estate-backend/internal/audit"
	"estate-backend/internal/auth"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AgencyResponse struct {
	models.Agency
	AgentCount int64 `json:"agent_count"`
}

type AgencyRequest struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Description  string   `json:"description"`
	Website      string   `json:"website" validate:"omitempty,url,max=255"`
	FoundedDate  *string  `json:"founded_date" validate:"omitempty,datetime=2006-01-02"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,longitude"`
	ServiceAreas []string `json:"service_areas"`
	Languages    []string `json:"languages"`
}

type UpdateAgencyRequest struct {
	Name         *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Description  *string   `json:"description"`
	Website      *string   `json:"website" validate:"omitempty,url,max=255"`
	FoundedDate  *string   `json:"founded_date" validate:"omitempty,datetime=2006-01-02"`
	Address      *string   `json:"address"`
	Latitude     *float64  `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64  `json:"longitude" validate:"omitempty,longitude"`
	ServiceAreas *[]string `json:"service_areas"`
	Languages    *[]string `json:"languages"`
}

// AddMemberRequest either attaches an existing user (user_id) or creates a new
// agency account from email/password/name.
type AddMemberRequest struct {
	UserID     *uint             `json:"user_id"`
	Email      string            `json:"email" validate:"required_without=UserID,omitempty,email"`
	Password   string            `json:"password" validate:"required_without=UserID,omitempty,min=8"`
	FirstName  string            `json:"first_name" validate:"required_without=UserID"`
	LastName   string            `json:"last_name" validate:"required_without=UserID"`
	Role       models.UserRole   `json:"role" validate:"omitempty,oneof=agent agency_admin agency_staff"`
	AgencyRole models.AgencyRole `json:"agency_role" validate:"omitempty,oneof=agent manager admin owner"`
}

func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil
	}
	return &t
}

func loadAgency(c *fiber.Ctx) (*models.Agency, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid agency id")
	}
	var agency models.Agency
	if err := database.DB.First(&agency, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "agency not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load agency")
	}
	return &agency, nil
}

func toResponse(a *models.Agency) AgencyResponse {
	n, _ := models.ActiveAgentCount(database.DB, a.ID)
	return AgencyResponse{Agency: *a, AgentCount: n}
}

// IsOwner reports whether userID belongs to agencyID with the owner agency role.
func IsOwner(userID, agencyID uint) bool {
	var n int64
	database.DB.Model(&models.User{}).
		Where("id = ? AND agency_id = ? AND agency_role = ?", userID, agencyID, models.AgencyRoleOwner).
		Count(&n)
	return n > 0
}

func canManage(c *fiber.Ctx, agencyID uint) bool {
	if auth.IsAdmin(c) {
		return true
	}
	uid, ok := auth.CurrentUserID(c)
	return ok && IsOwner(uid, agencyID)
}

// GET /api/agencies?verified=true&search=acme
func ListAgenciesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Order("name")
		if v := c.Query("verified"); v != "" {
			dbq = dbq.Where("verified = ?", c.QueryBool("verified"))
		}
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			dbq = dbq.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
		}
		var list []models.Agency
		if err := dbq.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list agencies")
		}
		resp := make([]AgencyResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toResponse(&list[i]))
		}
		return c.JSON(resp)
	}
}

// GET /api/agencies/:id
func GetAgencyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(agency))
	}
}

// POST /api/agencies (admin)
func CreateAgencyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body AgencyRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		name := strings.TrimSpace(body.Name)
		var n int64
		database.DB.Model(&models.Agency{}).Where("name = ?", name).Count(&n)
		if n > 0 {
			return fiber.NewError(fiber.StatusConflict, "an agency with this name already exists")
		}

		agency := models.Agency{
			Name:         name,
			Description:  body.Description,
			Website:      body.Website,
			FoundedDate:  parseDate(body.FoundedDate),
			Address:      body.Address,
			Latitude:     body.Latitude,
			Longitude:    body.Longitude,
			ServiceAreas: datatypes.JSONSlice[string](body.ServiceAreas),
			Languages:    datatypes.JSONSlice[string](body.Languages),
		}
		if err := database.DB.Create(&agency).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create agency")
		}
		audit.Record(c, audit.EntityAgency, agency.ID, models.AuditActionCreate, "agency created: "+agency.Name, nil, agency)
		return c.Status(fiber.StatusCreated).JSON(toResponse(&agency))
	}
}

// PUT /api/agencies/:id (owner or admin)
func UpdateAgencyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		if !canManage(c, agency.ID) {
			return fiber.NewError(fiber.StatusForbidden, "only admins or agency owners can perform this action")
		}
		var body UpdateAgencyRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		before := *agency

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			var n int64
			database.DB.Model(&models.Agency{}).Where("name = ? AND id <> ?", name, agency.ID).Count(&n)
			if n > 0 {
				return fiber.NewError(fiber.StatusConflict, "an agency with this name already exists")
			}
			agency.Name = name
		}
		if body.Description != nil {
			agency.Description = *body.Description
		}
		if body.Website != nil {
			agency.Website = *body.Website
		}
		if body.FoundedDate != nil {
			agency.FoundedDate = parseDate(body.FoundedDate)
		}
		if body.Address != nil {
			agency.Address = *body.Address
		}
		if body.Latitude != nil {
			agency.Latitude = body.Latitude
		}
		if body.Longitude != nil {
			agency.Longitude = body.Longitude
		}
		if body.ServiceAreas != nil {
			agency.ServiceAreas = datatypes.JSONSlice[string](*body.ServiceAreas)
		}
		if body.Languages != nil {
			agency.Languages = datatypes.JSONSlice[string](*body.Languages)
		}

		if err := database.DB.Save(agency).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update agency")
		}
		audit.Record(c, audit.EntityAgency, agency.ID, models.AuditActionUpdate, "agency updated: "+agency.Name, before, agency)
		return c.JSON(toResponse(agency))
	}
}

// DELETE /api/agencies/:id (admin)
// Members are detached, their agency fields cleared.
func DeleteAgencyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			err := tx.Model(&models.User{}).Where("agency_id = ?", agency.ID).
				UpdateColumns(map[string]any{"agency_id": nil, "agency_role": nil, "agency_verified": false, "agency_verified_at": nil}).Error
			if err != nil {
				return err
			}
			if err := tx.Model(&models.Property{}).Where("listing_agency_id = ?", agency.ID).UpdateColumn("listing_agency_id", nil).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Agency{}, agency.ID).Error
		})
		if err != nil {
			logger.FromCtx(c).WithError(err).WithField("agency_id", agency.ID).Error("agency delete failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete agency")
		}
		audit.Record(c, audit.EntityAgency, agency.ID, models.AuditActionDelete, "agency deleted: "+agency.Name, agency, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/agencies/:id/verify (admin)
func VerifyAgencyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		if agency.Verified {
			return c.JSON(toResponse(agency))
		}
		before := *agency
		agency.Verified = true
		if err := database.DB.Save(agency).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not verify agency")
		}
		audit.Record(c, audit.EntityAgency, agency.ID, models.AuditActionUpdate, "agency verified: "+agency.Name, before, agency)
		return c.JSON(toResponse(agency))
	}
}

// GET /api/agencies/:id/members
func ListMembersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		dbq := database.DB.Where("agency_id = ?", agency.ID).Order("last_name, first_name")
		if r := c.Query("role"); r != "" {
			dbq = dbq.Where("role = ?", r)
		}
		var members []models.User
		if err := dbq.Find(&members).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list members")
		}
		return c.JSON(members)
	}
}

// POST /api/agencies/:id/members (owner or admin)
func AddMemberHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		if !canManage(c, agency.ID) {
			return fiber.NewError(fiber.StatusForbidden, "only admins or agency owners can perform this action")
		}
		var body AddMemberRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.AgencyRole == "" {
			body.AgencyRole = models.AgencyRoleAgent
		}
		agencyRole := body.AgencyRole

		if body.UserID != nil {
			var user models.User
			if err := database.DB.First(&user, *body.UserID).Error; err != nil {
				return fiber.NewError(fiber.StatusNotFound, "user not found")
			}
			if user.AgencyID != nil && *user.AgencyID != agency.ID {
				return fiber.NewError(fiber.StatusConflict, "user already belongs to another agency")
			}
			if body.Role != "" {
				user.Role = body.Role
			}
			user.AgencyID = &agency.ID
			user.AgencyRole = &agencyRole
			if err := database.DB.Omit(clause.Associations).Save(&user).Error; err != nil {
				if errors.Is(err, models.ErrAgencyNotAllowed) {
					return fiber.NewError(fiber.StatusBadRequest, "customers cannot join an agency; set role")
				}
				return fiber.NewError(fiber.StatusInternalServerError, "could not add member")
			}
			return c.JSON(user)
		}

		email := strings.ToLower(strings.TrimSpace(body.Email))
		var n int64
		database.DB.Model(&models.User{}).Where("email = ?", email).Count(&n)
		if n > 0 {
			return fiber.NewError(fiber.StatusConflict, "a user with this email already exists")
		}
		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not hash password")
		}
		role := body.Role
		if role == "" {
			role = models.RoleAgent
		}
		user := models.User{
			Email:        email,
			FirstName:    body.FirstName,
			LastName:     body.LastName,
			PasswordHash: hash,
			Role:         role,
			IsActive:     true,
			AgencyID:     &agency.ID,
			AgencyRole:   &agencyRole,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create member")
		}
		auth.RecordActivity(c, user.ID, models.ActivityAccountCreated, map[string]any{"agency_id": agency.ID})
		return c.Status(fiber.StatusCreated).JSON(user)
	}
}

// DELETE /api/agencies/:id/members/:userId (owner or admin)
func RemoveMemberHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		if !canManage(c, agency.ID) {
			return fiber.NewError(fiber.StatusForbidden, "only admins or agency owners can perform this action")
		}
		userID, err := c.ParamsInt("userId")
		if err != nil || userID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
		}
		res := database.DB.Model(&models.User{}).
			Where("id = ? AND agency_id = ?", userID, agency.ID).
			UpdateColumns(map[string]any{"agency_id": nil, "agency_role": nil, "agency_verified": false, "agency_verified_at": nil})
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not remove member")
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "member not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/agencies/:id/agent-count
func AgentCountHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agency, err := loadAgency(c)
		if err != nil {
			return err
		}
		n, err := models.ActiveAgentCount(database.DB, agency.ID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count agents")
		}
		return c.JSON(fiber.Map{"agency_id": agency.ID, "agent_count": n})
	}
}
