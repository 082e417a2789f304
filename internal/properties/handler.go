package properties

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"estate-backend/internal/audit"
	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/pagination"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mediaURLPrefix = "/media/"

type ImageResponse struct {
	models.PropertyImage
	URL string `json:"url"`
}

type VideoResponse struct {
	models.PropertyVideo
	URL string `json:"url"`
}

type PropertyResponse struct {
	models.Property
	PrimaryImage *string                          `json:"primary_image"`
	Images       []ImageResponse                  `json:"images,omitempty"`
	Videos       []VideoResponse                  `json:"videos,omitempty"`
	Places       []models.PropertyPlaceOfInterest `json:"places_of_interest,omitempty"`
}

func mediaURL(path string) string {
	return mediaURLPrefix + path
}

func toResponse(p *models.Property) PropertyResponse {
	resp := PropertyResponse{Property: *p, Places: p.Places}
	for _, img := range p.Images {
		resp.Images = append(resp.Images, ImageResponse{PropertyImage: img, URL: mediaURL(img.Path)})
		if img.IsPrimary && resp.PrimaryImage == nil {
			u := mediaURL(img.Path)
			resp.PrimaryImage = &u
		}
	}
	for _, v := range p.Videos {
		resp.Videos = append(resp.Videos, VideoResponse{PropertyVideo: v, URL: mediaURL(v.Path)})
	}
	return resp
}

// PropertyRequest is used for create; update takes the same fields as pointers.
type PropertyRequest struct {
	Title           string                `json:"title" validate:"required,max=255"`
	Description     string                `json:"description" validate:"required"`
	PropertyType    models.PropertyType   `json:"property_type" validate:"required,oneof=apartment house land commercial"`
	Status          models.PropertyStatus `json:"status" validate:"omitempty,oneof=available sold rented under_maintenance"`
	ListingType     models.ListingType    `json:"listing_type" validate:"omitempty,oneof=sale rent both"`
	Featured        bool                  `json:"featured"`
	FeaturedUntil   *time.Time            `json:"featured_until"`
	Address         string                `json:"address" validate:"required,max=255"`
	City            string                `json:"city" validate:"required,max=100"`
	State           string                `json:"state" validate:"required,max=100"`
	ZipCode         string                `json:"zip_code" validate:"required,max=20"`
	Price           decimal.Decimal       `json:"price"`
	ViewingFee      *decimal.Decimal      `json:"viewing_fee"`
	Bedrooms        int                   `json:"bedrooms" validate:"gte=0"`
	Bathrooms       decimal.Decimal       `json:"bathrooms"`
	Area            decimal.Decimal       `json:"area"`
	ListingAgencyID *uint                 `json:"listing_agency_id"`
}

type UpdatePropertyRequest struct {
	Title           *string                `json:"title" validate:"omitempty,min=1,max=255"`
	Description     *string                `json:"description"`
	PropertyType    *models.PropertyType   `json:"property_type" validate:"omitempty,oneof=apartment house land commercial"`
	Status          *models.PropertyStatus `json:"status" validate:"omitempty,oneof=available sold rented under_maintenance"`
	ListingType     *models.ListingType    `json:"listing_type" validate:"omitempty,oneof=sale rent both"`
	Featured        *bool                  `json:"featured"`
	FeaturedUntil   *time.Time             `json:"featured_until"`
	Address         *string                `json:"address" validate:"omitempty,min=1,max=255"`
	City            *string                `json:"city" validate:"omitempty,min=1,max=100"`
	State           *string                `json:"state" validate:"omitempty,min=1,max=100"`
	ZipCode         *string                `json:"zip_code" validate:"omitempty,min=1,max=20"`
	Price           *decimal.Decimal       `json:"price"`
	ViewingFee      *decimal.Decimal       `json:"viewing_fee"`
	Bedrooms        *int                   `json:"bedrooms" validate:"omitempty,gte=0"`
	Bathrooms       *decimal.Decimal       `json:"bathrooms"`
	Area            *decimal.Decimal       `json:"area"`
	ListingAgencyID *uint                  `json:"listing_agency_id"`
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func loadProperty(c *fiber.Ctx, preload bool) (*models.Property, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	dbq := database.DB
	if preload {
		dbq = dbq.
			Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("is_primary DESC, id") }).
			Preload("Videos").
			Preload("Places.Place")
	}
	var p models.Property
	if err := dbq.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "property not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load property")
	}
	return &p, nil
}

func canEdit(c *fiber.Ctx, p *models.Property) bool {
	uid, ok := auth.CurrentUserID(c)
	return auth.IsStaff(c) || (ok && uid == p.OwnerID)
}

// loadEditable loads :id and checks the caller is the owner or staff.
func loadEditable(c *fiber.Ctx) (*models.Property, error) {
	p, err := loadProperty(c, false)
	if err != nil {
		return nil, err
	}
	if !canEdit(c, p) {
		return nil, fiber.NewError(fiber.StatusForbidden, "only the owner or staff can modify this property")
	}
	return p, nil
}

// checkAgency lets admins list under any agency and everyone else only under their own.
func checkAgency(c *fiber.Ctx, agencyID *uint) error {
	if agencyID == nil || auth.IsAdmin(c) {
		return nil
	}
	own := auth.CurrentAgencyID(c)
	if own == nil || *own != *agencyID {
		return fiber.NewError(fiber.StatusForbidden, "you can only list under your own agency")
	}
	return nil
}

func modelError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrRentalSold), errors.Is(err, models.ErrSaleRented),
		errors.Is(err, models.ErrNegativePrice), errors.Is(err, models.ErrNonPositiveArea):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	logger.FromCtx(c).WithError(err).Error("property save failed")
	return fiber.NewError(fiber.StatusInternalServerError, "could not save property")
}

// GET /api/properties
func ListPropertiesHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := ParseListQuery(c)
		if err != nil {
			return err
		}
		page := pagination.FromQuery(c)
		key := pc.Key(CacheNamespace, q.CacheKey())

		var cached pagination.Result[PropertyResponse]
		if pc.GetJSON(key, &cached) {
			c.Set("X-Cache", "HIT")
			return c.JSON(cached)
		}

		dbq := q.Apply(database.DB.Model(&models.Property{}))
		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count properties")
		}
		var list []models.Property
		err = page.Apply(dbq).
			Preload("Images", "is_primary = ?", true).
			Order(q.OrderClause()).
			Find(&list).Error
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list properties")
		}

		items := make([]PropertyResponse, 0, len(list))
		for i := range list {
			items = append(items, toResponse(&list[i]))
		}
		result := pagination.NewResult(page, count, items)
		pc.SetJSON(key, result)
		c.Set("X-Cache", "MISS")
		return c.JSON(result)
	}
}

// GET /api/properties/:id
// Authenticated callers get a property_view activity entry.
func GetPropertyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadProperty(c, true)
		if err != nil {
			return err
		}
		if uid, ok := auth.CurrentUserID(c); ok {
			auth.RecordActivity(c, uid, models.ActivityPropertyView, map[string]any{"property_id": p.ID})
		}
		return c.JSON(toResponse(p))
	}
}

// POST /api/properties
func CreatePropertyHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		var body PropertyRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.ListingAgencyID == nil {
			body.ListingAgencyID = auth.CurrentAgencyID(c)
		}
		if err := checkAgency(c, body.ListingAgencyID); err != nil {
			return err
		}

		p := models.Property{
			Title:           strings.TrimSpace(body.Title),
			Description:     body.Description,
			PropertyType:    body.PropertyType,
			Status:          body.Status,
			ListingType:     body.ListingType,
			Featured:        body.Featured,
			FeaturedUntil:   body.FeaturedUntil,
			Address:         body.Address,
			City:            body.City,
			State:           body.State,
			ZipCode:         body.ZipCode,
			Price:           body.Price,
			ViewingFee:      models.DefaultViewingFee,
			Bedrooms:        body.Bedrooms,
			Bathrooms:       body.Bathrooms,
			Area:            body.Area,
			OwnerID:         uid,
			ListingAgencyID: body.ListingAgencyID,
		}
		if p.Status == "" {
			p.Status = models.StatusAvailable
		}
		if p.ListingType == "" {
			p.ListingType = models.ListingSale
		}
		if body.ViewingFee != nil {
			if body.ViewingFee.IsNegative() {
				return fiber.NewError(fiber.StatusBadRequest, "viewing fee cannot be negative")
			}
			p.ViewingFee = *body.ViewingFee
		}

		if err := database.DB.Omit(clause.Associations).Create(&p).Error; err != nil {
			return modelError(c, err)
		}
		pc.Invalidate(CacheNamespace)
		audit.Record(c, audit.EntityProperty, p.ID, models.AuditActionCreate, "property created: "+p.Title, nil, p)
		return c.Status(fiber.StatusCreated).JSON(toResponse(&p))
	}
}

// PUT /api/properties/:id
func UpdatePropertyHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		var body UpdatePropertyRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.ListingAgencyID != nil {
			if err := checkAgency(c, body.ListingAgencyID); err != nil {
				return err
			}
		}
		before := *p

		if body.Title != nil {
			p.Title = strings.TrimSpace(*body.Title)
		}
		if body.Description != nil {
			p.Description = *body.Description
		}
		if body.PropertyType != nil {
			p.PropertyType = *body.PropertyType
		}
		if body.Status != nil {
			p.Status = *body.Status
		}
		if body.ListingType != nil {
			p.ListingType = *body.ListingType
		}
		if body.Featured != nil {
			p.Featured = *body.Featured
		}
		if body.FeaturedUntil != nil {
			p.FeaturedUntil = body.FeaturedUntil
		}
		if body.Address != nil {
			p.Address = *body.Address
		}
		if body.City != nil {
			p.City = *body.City
		}
		if body.State != nil {
			p.State = *body.State
		}
		if body.ZipCode != nil {
			p.ZipCode = *body.ZipCode
		}
		if body.Price != nil {
			p.Price = *body.Price
		}
		if body.ViewingFee != nil {
			if body.ViewingFee.IsNegative() {
				return fiber.NewError(fiber.StatusBadRequest, "viewing fee cannot be negative")
			}
			p.ViewingFee = *body.ViewingFee
		}
		if body.Bedrooms != nil {
			p.Bedrooms = *body.Bedrooms
		}
		if body.Bathrooms != nil {
			p.Bathrooms = *body.Bathrooms
		}
		if body.Area != nil {
			p.Area = *body.Area
		}
		if body.ListingAgencyID != nil {
			p.ListingAgencyID = body.ListingAgencyID
		}

		if err := database.DB.Omit(clause.Associations).Save(p).Error; err != nil {
			return modelError(c, err)
		}
		pc.Invalidate(CacheNamespace)
		audit.Record(c, audit.EntityProperty, p.ID, models.AuditActionUpdate, "property updated: "+p.Title, before, p)
		return c.JSON(toResponse(p))
	}
}

// DELETE /api/properties/:id
func DeletePropertyHandler(pc *cache.Cache, store Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		var images []models.PropertyImage
		var videos []models.PropertyVideo
		database.DB.Where("property_id = ?", p.ID).Find(&images)
		database.DB.Where("property_id = ?", p.ID).Find(&videos)

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			for _, m := range []any{&models.PropertyImage{}, &models.PropertyVideo{}, &models.PropertyPlaceOfInterest{}, &models.PropertyInterest{}} {
				if err := tx.Where("property_id = ?", p.ID).Delete(m).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("property_id = ?", p.ID).Delete(&models.UserFavorite{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Property{}, p.ID).Error
		})
		if err != nil {
			logger.FromCtx(c).WithError(err).WithField("property_id", p.ID).Warn("property delete failed")
			return fiber.NewError(fiber.StatusConflict, "property has contracts or payments and cannot be deleted")
		}

		for _, img := range images {
			if err := store.Delete(img.Path); err != nil {
				logger.FromCtx(c).WithError(err).Warn("could not remove image file")
			}
		}
		for _, v := range videos {
			if err := store.Delete(v.Path); err != nil {
				logger.FromCtx(c).WithError(err).Warn("could not remove video file")
			}
		}
		pc.Invalidate(CacheNamespace)
		audit.Record(c, audit.EntityProperty, p.ID, models.AuditActionDelete, "property deleted: "+p.Title, p, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
