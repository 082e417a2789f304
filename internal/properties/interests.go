package properties

import (
	"estate-backend/internal/auth"
	"estate-backend/internal/database"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm/clause"
)

type InterestedUser struct {
	UserID      uint    `json:"user_id"`
	Email       string  `json:"email"`
	FullName    string  `json:"full_name"`
	PhoneNumber *string `json:"phone_number"`
	Since       string  `json:"since"`
}

// POST /api/properties/:id/interest
func ExpressInterestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProperty(c, false)
		if err != nil {
			return err
		}
		uid, _ := auth.CurrentUserID(c)
		if uid == p.OwnerID {
			return fiber.NewError(fiber.StatusBadRequest, "you own this property")
		}
		in := models.PropertyInterest{UserID: uid, PropertyID: p.ID}
		res := database.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&in)
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not record interest")
		}
		if res.RowsAffected == 0 {
			return c.JSON(fiber.Map{"status": "already interested"})
		}
		auth.RecordActivity(c, uid, models.ActivityPropertyContact, map[string]any{"property_id": p.ID})
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "interest recorded"})
	}
}

// DELETE /api/properties/:id/interest
func WithdrawInterestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProperty(c, false)
		if err != nil {
			return err
		}
		uid, _ := auth.CurrentUserID(c)
		res := database.DB.Where("user_id = ? AND property_id = ?", uid, p.ID).Delete(&models.PropertyInterest{})
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not withdraw interest")
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no interest recorded")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/properties/:id/interests (owner or staff)
func ListInterestsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		var rows []models.PropertyInterest
		if err := database.DB.Where("property_id = ?", p.ID).Order("created_at DESC").Find(&rows).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list interests")
		}
		ids := make([]uint, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.UserID)
		}
		var users []models.User
		if len(ids) > 0 {
			if err := database.DB.Where("id IN ?", ids).Find(&users).Error; err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "could not list interests")
			}
		}
		byID := make(map[uint]*models.User, len(users))
		for i := range users {
			byID[users[i].ID] = &users[i]
		}

		resp := make([]InterestedUser, 0, len(rows))
		for _, r := range rows {
			u, ok := byID[r.UserID]
			if !ok {
				continue
			}
			resp = append(resp, InterestedUser{
				UserID:      u.ID,
				Email:       u.Email,
				FullName:    u.FullName(),
				PhoneNumber: u.PhoneNumber,
				Since:       r.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return c.JSON(resp)
	}
}
