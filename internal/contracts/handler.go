package contracts

import (
	"errors"
	"strconv"
	"time"

	"estate-backend/internal/audit"
	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/pagination"
	"estate-backend/internal/properties"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dateLayout = "2006-01-02"

type RentalResponse struct {
	models.RentalContract
	DurationDays int             `json:"duration_days"`
	TotalFees    decimal.Decimal `json:"total_fees"`
}

type SaleResponse struct {
	models.SaleContract
	TotalFees decimal.Decimal `json:"total_fees"`
}

type RentalRequest struct {
	PropertyID      uint            `json:"property_id" validate:"required"`
	TenantID        *uint           `json:"tenant_id"`
	StartDate       string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string          `json:"end_date" validate:"required,datetime=2006-01-02"`
	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
}

type SaleRequest struct {
	PropertyID uint            `json:"property_id" validate:"required"`
	BuyerID    *uint           `json:"buyer_id"`
	SalePrice  decimal.Decimal `json:"sale_price"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func rentalResponse(db *gorm.DB, r *models.RentalContract) (RentalResponse, error) {
	fees, err := models.TotalFees(db, "rental_contract_id", r.ID)
	if err != nil {
		return RentalResponse{}, err
	}
	return RentalResponse{RentalContract: *r, DurationDays: r.DurationDays(), TotalFees: fees}, nil
}

func saleResponse(db *gorm.DB, s *models.SaleContract) (SaleResponse, error) {
	fees, err := models.TotalFees(db, "sale_contract_id", s.ID)
	if err != nil {
		return SaleResponse{}, err
	}
	return SaleResponse{SaleContract: *s, TotalFees: fees}, nil
}

// party resolves who a contract is for: the caller, or anyone when staff asks on their behalf.
func party(c *fiber.Ctx, requested *uint) (uint, error) {
	uid, _ := auth.CurrentUserID(c)
	if requested == nil || *requested == uid {
		return uid, nil
	}
	if !auth.IsStaff(c) {
		return 0, fiber.NewError(fiber.StatusForbidden, "only staff can create contracts on behalf of another user")
	}
	var n int64
	database.DB.Model(&models.User{}).Where("id = ?", *requested).Count(&n)
	if n == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "user not found")
	}
	return *requested, nil
}

func loadProperty(id uint) (*models.Property, error) {
	var p models.Property
	if err := database.DB.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "property not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load property")
	}
	return &p, nil
}

// visible scopes a contract query to what the caller may see: staff see everything,
// others see contracts where they are the party or own the property.
func visible(c *fiber.Ctx, db *gorm.DB, partyColumn string) *gorm.DB {
	if auth.IsStaff(c) {
		return db
	}
	uid, _ := auth.CurrentUserID(c)
	owned := database.DB.Model(&models.Property{}).Select("id").Where("owner_id = ?", uid)
	return db.Where(partyColumn+" = ? OR property_id IN (?)", uid, owned)
}

// POST /api/contracts/rentals
func CreateRentalHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RentalRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		tenantID, err := party(c, body.TenantID)
		if err != nil {
			return err
		}
		p, err := loadProperty(body.PropertyID)
		if err != nil {
			return err
		}
		if !p.ListingType.AllowsRent() {
			return fiber.NewError(fiber.StatusBadRequest, "property is not listed for rent")
		}
		if p.Status == models.StatusSold {
			return fiber.NewError(fiber.StatusBadRequest, "property has been sold")
		}
		if body.MonthlyRent.Sign() <= 0 || body.SecurityDeposit.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "monthly_rent must be positive and security_deposit non-negative")
		}
		start, _ := time.Parse(dateLayout, body.StartDate)
		end, _ := time.Parse(dateLayout, body.EndDate)

		rc := models.RentalContract{
			PropertyID:      p.ID,
			TenantID:        tenantID,
			StartDate:       start,
			EndDate:         end,
			MonthlyRent:     body.MonthlyRent,
			SecurityDeposit: body.SecurityDeposit,
			IsActive:        true,
		}
		if err := database.DB.Omit(clause.Associations).Create(&rc).Error; err != nil {
			if errors.Is(err, models.ErrContractDates) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			logger.FromCtx(c).WithError(err).Error("rental contract create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not create rental contract")
		}
		audit.Record(c, audit.EntityRentalContract, rc.ID, models.AuditActionCreate, "rental contract created", nil, rc)

		resp, err := rentalResponse(database.DB, &rc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	}
}

// GET /api/contracts/rentals?active=true
func ListRentalsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := visible(c, database.DB.Model(&models.RentalContract{}), "tenant_id")
		if v := c.Query("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid active")
			}
			dbq = dbq.Where("is_active = ?", active)
		}
		if pid := c.QueryInt("property_id"); pid > 0 {
			dbq = dbq.Where("property_id = ?", pid)
		}

		page := pagination.FromQuery(c)
		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count rental contracts")
		}
		var list []models.RentalContract
		if err := page.Apply(dbq).Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list rental contracts")
		}
		items := make([]RentalResponse, 0, len(list))
		for i := range list {
			r, err := rentalResponse(database.DB, &list[i])
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
			}
			items = append(items, r)
		}
		return c.JSON(pagination.NewResult(page, count, items))
	}
}

func loadRental(c *fiber.Ctx) (*models.RentalContract, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var rc models.RentalContract
	if err := visible(c, database.DB, "tenant_id").First(&rc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "rental contract not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load rental contract")
	}
	return &rc, nil
}

// GET /api/contracts/rentals/:id
func GetRentalHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, err := loadRental(c)
		if err != nil {
			return err
		}
		resp, err := rentalResponse(database.DB, rc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.JSON(resp)
	}
}

// POST /api/contracts/rentals/:id/terminate
// The tenant, the property owner or staff may end an active lease.
func TerminateRentalHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, err := loadRental(c)
		if err != nil {
			return err
		}
		if !rc.IsActive {
			return fiber.NewError(fiber.StatusBadRequest, "rental contract is already terminated")
		}
		before := *rc
		if err := database.DB.Model(rc).UpdateColumn("is_active", false).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not terminate rental contract")
		}
		rc.IsActive = false
		audit.Record(c, audit.EntityRentalContract, rc.ID, models.AuditActionUpdate, "rental contract terminated", before, rc)

		resp, err := rentalResponse(database.DB, rc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.JSON(resp)
	}
}

// POST /api/contracts/sales
func CreateSaleHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SaleRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		buyerID, err := party(c, body.BuyerID)
		if err != nil {
			return err
		}
		p, err := loadProperty(body.PropertyID)
		if err != nil {
			return err
		}
		if !p.ListingType.AllowsSale() {
			return fiber.NewError(fiber.StatusBadRequest, "property is not listed for sale")
		}
		if p.Status == models.StatusSold {
			return fiber.NewError(fiber.StatusBadRequest, "property has already been sold")
		}
		if p.OwnerID == buyerID {
			return fiber.NewError(fiber.StatusBadRequest, "the owner cannot buy their own property")
		}
		if body.SalePrice.Sign() <= 0 {
			body.SalePrice = p.Price
		}

		sc := models.SaleContract{PropertyID: p.ID, BuyerID: buyerID, SalePrice: body.SalePrice}
		if err := database.DB.Omit(clause.Associations).Create(&sc).Error; err != nil {
			logger.FromCtx(c).WithError(err).Error("sale contract create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not create sale contract")
		}
		audit.Record(c, audit.EntitySaleContract, sc.ID, models.AuditActionCreate, "sale contract created", nil, sc)

		resp, err := saleResponse(database.DB, &sc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	}
}

// GET /api/contracts/sales?completed=false
func ListSalesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := visible(c, database.DB.Model(&models.SaleContract{}), "buyer_id")
		if v := c.Query("completed"); v != "" {
			done, err := strconv.ParseBool(v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid completed")
			}
			dbq = dbq.Where("is_completed = ?", done)
		}

		page := pagination.FromQuery(c)
		var count int64
		if err := dbq.Count(&count).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not count sale contracts")
		}
		var list []models.SaleContract
		if err := page.Apply(dbq).Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list sale contracts")
		}
		items := make([]SaleResponse, 0, len(list))
		for i := range list {
			s, err := saleResponse(database.DB, &list[i])
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
			}
			items = append(items, s)
		}
		return c.JSON(pagination.NewResult(page, count, items))
	}
}

func loadSale(c *fiber.Ctx) (*models.SaleContract, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var sc models.SaleContract
	if err := visible(c, database.DB, "buyer_id").First(&sc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "sale contract not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load sale contract")
	}
	return &sc, nil
}

// GET /api/contracts/sales/:id
func GetSaleHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sc, err := loadSale(c)
		if err != nil {
			return err
		}
		resp, err := saleResponse(database.DB, sc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.JSON(resp)
	}
}

var errAlreadySold = errors.New("property already sold")

// POST /api/contracts/sales/:id/complete (staff or property owner)
// Completing a sale marks the property sold.
func CompleteSaleHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sc, err := loadSale(c)
		if err != nil {
			return err
		}
		uid, _ := auth.CurrentUserID(c)
		var p models.Property
		if err := database.DB.First(&p, sc.PropertyID).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load property")
		}
		if !auth.IsStaff(c) && p.OwnerID != uid {
			return fiber.NewError(fiber.StatusForbidden, "only the property owner or staff can complete a sale")
		}
		if sc.IsCompleted {
			return fiber.NewError(fiber.StatusBadRequest, "sale contract is already completed")
		}
		if p.Status == models.StatusSold {
			return fiber.NewError(fiber.StatusBadRequest, "property is already sold")
		}

		before := *sc
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			// conditional updates so a concurrent completion of another contract loses
			res := tx.Model(&models.Property{}).Where("id = ? AND status <> ?", p.ID, models.StatusSold).
				UpdateColumns(map[string]any{"status": models.StatusSold, "featured": false})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errAlreadySold
			}
			res = tx.Model(&models.SaleContract{}).Where("id = ? AND is_completed = ?", sc.ID, false).
				UpdateColumn("is_completed", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errAlreadySold
			}
			return nil
		})
		if errors.Is(err, errAlreadySold) {
			return fiber.NewError(fiber.StatusBadRequest, "property is already sold")
		}
		if err != nil {
			logger.FromCtx(c).WithError(err).WithField("sale_contract_id", sc.ID).Error("sale completion failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not complete sale")
		}
		sc.IsCompleted = true
		pc.Invalidate(properties.CacheNamespace)
		audit.Record(c, audit.EntitySaleContract, sc.ID, models.AuditActionUpdate, "sale contract completed", before, sc)
		logger.FromCtx(c).WithField("sale_contract_id", sc.ID).WithField("property_id", p.ID).Info("sale completed")

		resp, err := saleResponse(database.DB, sc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load contract fees")
		}
		return c.JSON(resp)
	}
}
