package users

import (
	"errors"
	"strings"
	"time"

	"estate-backend/internal/database"
	"estate-backend/internal/models"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LicenseRequest struct {
	Number     string             `json:"number" validate:"required,max=100"`
	Type       models.LicenseType `json:"type" validate:"required,oneof=sales broker appraiser"`
	State      string             `json:"state" validate:"required,max=100"`
	ExpiryDate string             `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Verified   bool               `json:"verified"`
}

type SpecializationRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

func (r *LicenseRequest) apply(l *models.License) {
	l.Number = strings.TrimSpace(r.Number)
	l.Type = r.Type
	l.State = strings.TrimSpace(r.State)
	l.ExpiryDate, _ = time.Parse("2006-01-02", r.ExpiryDate)
	if r.Verified && !l.Verified {
		now := time.Now()
		l.VerifiedAt = &now
	}
	if !r.Verified {
		l.VerifiedAt = nil
	}
	l.Verified = r.Verified
}

// GET /api/licenses?active=true
func ListLicensesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Order("expiry_date")
		if c.QueryBool("active") {
			dbq = dbq.Where("expiry_date >= ?", time.Now().Format("2006-01-02"))
		}
		var list []models.License
		if err := dbq.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list licenses")
		}
		return c.JSON(list)
	}
}

// POST /api/licenses
func CreateLicenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LicenseRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		var lic models.License
		body.apply(&lic)
		if err := database.DB.Create(&lic).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create license")
		}
		return c.Status(fiber.StatusCreated).JSON(lic)
	}
}

// PUT /api/licenses/:id
func UpdateLicenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var lic models.License
		if err := database.DB.First(&lic, id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "license not found")
		}
		var body LicenseRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		body.apply(&lic)
		if err := database.DB.Save(&lic).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update license")
		}
		return c.JSON(lic)
	}
}

// DELETE /api/licenses/:id
func DeleteLicenseHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("DELETE FROM user_licenses WHERE license_id = ?", id).Error; err != nil {
				return err
			}
			res := tx.Delete(&models.License{}, id)
			if res.Error == nil && res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return res.Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "license not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete license")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/specializations
func ListSpecializationsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var list []models.Specialization
		if err := database.DB.Order("name").Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list specializations")
		}
		return c.JSON(list)
	}
}

// POST /api/specializations
func CreateSpecializationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SpecializationRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		name := strings.TrimSpace(body.Name)
		var n int64
		database.DB.Model(&models.Specialization{}).Where("LOWER(name) = ?", strings.ToLower(name)).Count(&n)
		if n > 0 {
			return fiber.NewError(fiber.StatusConflict, "specialization already exists")
		}
		spec := models.Specialization{Name: name, Description: body.Description}
		if err := database.DB.Create(&spec).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create specialization")
		}
		return c.Status(fiber.StatusCreated).JSON(spec)
	}
}

// DELETE /api/specializations/:id
func DeleteSpecializationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("DELETE FROM user_specializations WHERE specialization_id = ?", id).Error; err != nil {
				return err
			}
			res := tx.Delete(&models.Specialization{}, id)
			if res.Error == nil && res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return res.Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "specialization not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete specialization")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func loadAgent(id uint) (*models.User, error) {
	var agent models.User
	if err := database.DB.First(&agent, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "user not found")
	}
	if agent.Role != models.RoleAgent {
		return nil, fiber.NewError(fiber.StatusBadRequest, "licenses and specializations only apply to agents")
	}
	return &agent, nil
}

// attachHandler builds the attach/detach endpoints for an agent's many-to-many lists.
// POST|DELETE /api/users/:id/licenses/:ref and /api/users/:id/specializations/:ref
func attachHandler(association string, target func(id uint) (any, error), detach bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := paramID(c, "id")
		if err != nil {
			return err
		}
		refID, err := paramID(c, "ref")
		if err != nil {
			return err
		}
		agent, err := loadAgent(userID)
		if err != nil {
			return err
		}
		item, err := target(refID)
		if err != nil {
			return err
		}

		assoc := database.DB.Model(agent).Association(association)
		if detach {
			err = assoc.Delete(item)
		} else {
			err = assoc.Append(item)
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update "+strings.ToLower(association))
		}

		fresh, err := loadUser(agent.ID)
		if err != nil {
			return err
		}
		return c.JSON(toUserResponse(fresh))
	}
}

func findLicense(id uint) (any, error) {
	var l models.License
	if err := database.DB.First(&l, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "license not found")
	}
	return &l, nil
}

func findSpecialization(id uint) (any, error) {
	var s models.Specialization
	if err := database.DB.First(&s, id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "specialization not found")
	}
	return &s, nil
}

func AttachLicenseHandler() fiber.Handler {
	return attachHandler("Licenses", findLicense, false)
}

func DetachLicenseHandler() fiber.Handler {
	return attachHandler("Licenses", findLicense, true)
}

func AttachSpecializationHandler() fiber.Handler {
	return attachHandler("Specializations", findSpecialization, false)
}

func DetachSpecializationHandler() fiber.Handler {
	return attachHandler("Specializations", findSpecialization, true)
}
