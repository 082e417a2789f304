package properties

import (
	"errors"
	"strings"

	"estate-backend/internal/audit"
	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/models"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlaceRequest struct {
	Name      string              `json:"name" validate:"required,max=255"`
	PlaceType models.PlaceType    `json:"place_type" validate:"omitempty,oneof=school hospital park shopping transport restaurant other"`
	Address   string              `json:"address" validate:"max=255"`
	Latitude  decimal.NullDecimal `json:"latitude"`
	Longitude decimal.NullDecimal `json:"longitude"`
}

type AttachPlaceRequest struct {
	PlaceID  uint            `json:"place_id" validate:"required"`
	Distance decimal.Decimal `json:"distance"`
}

func (r *PlaceRequest) apply(p *models.PlaceOfInterest) {
	p.Name = strings.TrimSpace(r.Name)
	p.PlaceType = r.PlaceType
	if p.PlaceType == "" {
		p.PlaceType = models.PlaceOther
	}
	p.Address = r.Address
	p.Latitude = r.Latitude
	p.Longitude = r.Longitude
}

func loadPlace(c *fiber.Ctx, param string) (*models.PlaceOfInterest, error) {
	id, err := paramID(c, param)
	if err != nil {
		return nil, err
	}
	var place models.PlaceOfInterest
	if err := database.DB.First(&place, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "place of interest not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load place of interest")
	}
	return &place, nil
}

// GET /api/places?place_type=school
func ListPlacesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Order("name")
		if t := c.Query("place_type"); t != "" {
			dbq = dbq.Where("place_type = ?", t)
		}
		var list []models.PlaceOfInterest
		if err := dbq.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list places of interest")
		}
		return c.JSON(list)
	}
}

// POST /api/places (staff)
func CreatePlaceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body PlaceRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		var place models.PlaceOfInterest
		body.apply(&place)
		if err := database.DB.Create(&place).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create place of interest")
		}
		audit.Record(c, audit.EntityPlaceOfInterest, place.ID, models.AuditActionCreate, "place created: "+place.Name, nil, place)
		return c.Status(fiber.StatusCreated).JSON(place)
	}
}

// PUT /api/places/:id (staff)
func UpdatePlaceHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		place, err := loadPlace(c, "id")
		if err != nil {
			return err
		}
		var body PlaceRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		before := *place
		body.apply(place)
		if err := database.DB.Save(place).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update place of interest")
		}
		pc.Invalidate(CacheNamespace)
		audit.Record(c, audit.EntityPlaceOfInterest, place.ID, models.AuditActionUpdate, "place updated: "+place.Name, before, place)
		return c.JSON(place)
	}
}

// DELETE /api/places/:id (staff)
func DeletePlaceHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		place, err := loadPlace(c, "id")
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("place_id = ?", place.ID).Delete(&models.PropertyPlaceOfInterest{}).Error; err != nil {
				return err
			}
			return tx.Delete(place).Error
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete place of interest")
		}
		pc.Invalidate(CacheNamespace)
		audit.Record(c, audit.EntityPlaceOfInterest, place.ID, models.AuditActionDelete, "place deleted: "+place.Name, place, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/properties/:id/places
func ListPropertyPlacesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProperty(c, false)
		if err != nil {
			return err
		}
		var links []models.PropertyPlaceOfInterest
		if err := database.DB.Preload("Place").Where("property_id = ?", p.ID).Order("distance").Find(&links).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list places of interest")
		}
		return c.JSON(links)
	}
}

// POST /api/properties/:id/places (owner or staff)
// Attaching an already linked place updates its distance.
func AttachPlaceHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		var body AttachPlaceRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.Distance.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "distance cannot be negative")
		}
		var place models.PlaceOfInterest
		if err := database.DB.First(&place, body.PlaceID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "place of interest not found")
		}

		link := models.PropertyPlaceOfInterest{PropertyID: p.ID, PlaceID: place.ID, Distance: body.Distance}
		err = database.DB.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "property_id"}, {Name: "place_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"distance"}),
		}).Create(&link).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not attach place of interest")
		}
		pc.Invalidate(CacheNamespace)

		link.Place = place
		return c.Status(fiber.StatusCreated).JSON(link)
	}
}

// DELETE /api/properties/:id/places/:placeId (owner or staff)
func DetachPlaceHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		placeID, err := paramID(c, "placeId")
		if err != nil {
			return err
		}
		res := database.DB.Where("property_id = ? AND place_id = ?", p.ID, placeID).Delete(&models.PropertyPlaceOfInterest{})
		if res.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not detach place of interest")
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "place of interest not attached")
		}
		pc.Invalidate(CacheNamespace)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
