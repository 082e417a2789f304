package users

import (
	"estate-backend/internal/auth"
	"estate-backend/internal/database"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FavoriteRequest struct {
	PropertyID       *uint          `json:"property_id"`
	AgentID          *uint          `json:"agent_id"`
	SearchParameters map[string]any `json:"search_parameters"`
}

// targets counts how many of the three favorite kinds are set.
func (r *FavoriteRequest) targets() int {
	n := 0
	if r.PropertyID != nil {
		n++
	}
	if r.AgentID != nil {
		n++
	}
	if len(r.SearchParameters) > 0 {
		n++
	}
	return n
}

// GET /api/favorites?kind=property|agent|search
func ListFavoritesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		dbq := database.DB.Where("user_id = ?", uid)
		switch c.Query("kind") {
		case "property":
			dbq = dbq.Where("property_id IS NOT NULL")
		case "agent":
			dbq = dbq.Where("agent_id IS NOT NULL")
		case "search":
			dbq = dbq.Where("property_id IS NULL AND agent_id IS NULL")
		}
		var favs []models.UserFavorite
		if err := dbq.Order("created_at DESC").Find(&favs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list favorites")
		}
		return c.JSON(favs)
	}
}

// POST /api/favorites
func CreateFavoriteHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		var body FavoriteRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if body.targets() != 1 {
			return fiber.NewError(fiber.StatusBadRequest, "set exactly one of property_id, agent_id or search_parameters")
		}

		fav := models.UserFavorite{UserID: uid}
		switch {
		case body.PropertyID != nil:
			if err := database.DB.Select("id").First(&models.Property{}, *body.PropertyID).Error; err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "property not found")
			}
			if exists(database.DB.Where("user_id = ? AND property_id = ?", uid, *body.PropertyID)) {
				return fiber.NewError(fiber.StatusConflict, "property already in favorites")
			}
			fav.PropertyID = body.PropertyID
		case body.AgentID != nil:
			var agent models.User
			if err := database.DB.Select("id", "role").First(&agent, *body.AgentID).Error; err != nil || agent.Role != models.RoleAgent {
				return fiber.NewError(fiber.StatusBadRequest, "agent not found")
			}
			if exists(database.DB.Where("user_id = ? AND agent_id = ?", uid, *body.AgentID)) {
				return fiber.NewError(fiber.StatusConflict, "agent already in favorites")
			}
			fav.AgentID = body.AgentID
		default:
			fav.SearchParameters = datatypes.JSONMap(body.SearchParameters)
		}

		if err := database.DB.Create(&fav).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not save favorite")
		}
		if fav.PropertyID != nil {
			auth.RecordActivity(c, uid, models.ActivityPropertySave, map[string]any{"property_id": *fav.PropertyID})
		}
		return c.Status(fiber.StatusCreated).JSON(fav)
	}
}

// DELETE /api/favorites/:id
func DeleteFavoriteHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		res := database.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&models.UserFavorite{})
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete favorite")
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "favorite not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func exists(scope *gorm.DB) bool {
	var fav models.UserFavorite
	return scope.Select("id").First(&fav).Error == nil
}
