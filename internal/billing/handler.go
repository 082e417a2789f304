package billing

import (
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
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionResponse struct {
	models.Transaction
	TypeLabel string `json:"transaction_type_display"`
}

type TransactionRequest struct {
	Type             models.TransactionType `json:"transaction_type" validate:"required,oneof=admin processing commitment viewing rent purchase"`
	Amount           decimal.Decimal        `json:"amount"`
	PropertyID       *uint                  `json:"property_id"`
	SubscriptionID   *uint                  `json:"subscription_id"`
	RentalContractID *uint                  `json:"rental_contract_id"`
	SaleContractID   *uint                  `json:"sale_contract_id"`
	PaymentID        string                 `json:"payment_id" validate:"required,max=255"`
}

type SubscriptionResponse struct {
	models.ServiceSubscription
	IsActive bool `json:"is_active"`
}

type SubscriptionRequest struct {
	PropertyID  uint               `json:"property_id" validate:"required"`
	ServiceType models.ServiceType `json:"service_type" validate:"required,oneof=viewing rental purchase"`
	ValidUntil  time.Time          `json:"valid_until" validate:"required"`
}

func toTransactionResponse(t models.Transaction) TransactionResponse {
	return TransactionResponse{Transaction: t, TypeLabel: t.Type.Label()}
}

// exists reports whether a row with id exists in model's table.
func exists(model any, id uint) bool {
	var n int64
	database.DB.Model(model).Where("id = ?", id).Count(&n)
	return n > 0
}

// checkLinks rejects references to rows that don't exist.
func checkLinks(body *TransactionRequest) error {
	links := []struct {
		id    *uint
		model any
		name  string
	}{
		{body.PropertyID, &models.Property{}, "property"},
		{body.SubscriptionID, &models.ServiceSubscription{}, "subscription"},
		{body.RentalContractID, &models.RentalContract{}, "rental contract"},
		{body.SaleContractID, &models.SaleContract{}, "sale contract"},
	}
	for _, l := range links {
		if l.id != nil && !exists(l.model, *l.id) {
			return fiber.NewError(fiber.StatusBadRequest, l.name+" not found")
		}
	}
	return nil
}

// filterTransactions applies the query filters shared by the own and staff listings.
func filterTransactions(c *fiber.Ctx, dbq *gorm.DB) (*gorm.DB, error) {
	if t := models.TransactionType(c.Query("transaction_type")); t != "" {
		if !t.Valid() {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid transaction_type")
		}
		dbq = dbq.Where("type = ?", t)
	}
	if pid := c.QueryInt("property_id"); pid > 0 {
		dbq = dbq.Where("property_id = ?", pid)
	}
	for _, bound := range []struct{ param, op string }{{"from", ">="}, {"to", "<"}} {
		v := c.Query(bound.param)
		if v == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+bound.param+", expected YYYY-MM-DD")
		}
		if bound.param == "to" {
			d = d.AddDate(0, 0, 1)
		}
		dbq = dbq.Where("created_at "+bound.op+" ?", d)
	}
	return dbq, nil
}

func listTransactions(c *fiber.Ctx, dbq *gorm.DB) error {
	dbq, err := filterTransactions(c, dbq)
	if err != nil {
		return err
	}
	page := pagination.FromQuery(c)
	var count int64
	if err := dbq.Count(&count).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not count transactions")
	}
	var list []models.Transaction
	if err := page.Apply(dbq).Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not list transactions")
	}
	items := make([]TransactionResponse, 0, len(list))
	for _, t := range list {
		items = append(items, toTransactionResponse(t))
	}
	return c.JSON(pagination.NewResult(page, count, items))
}

// POST /api/transactions
func CreateTransactionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		var body TransactionRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.Amount.Sign() <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "amount must be greater than zero")
		}
		if err := checkLinks(&body); err != nil {
			return err
		}

		t := models.Transaction{
			UserID:           uid,
			Type:             body.Type,
			Amount:           body.Amount,
			PropertyID:       body.PropertyID,
			SubscriptionID:   body.SubscriptionID,
			RentalContractID: body.RentalContractID,
			SaleContractID:   body.SaleContractID,
			PaymentID:        strings.TrimSpace(body.PaymentID),
		}
		res := database.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&t)
		if res.Error != nil {
			logger.FromCtx(c).WithError(res.Error).Error("transaction create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not record transaction")
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusConflict, "a transaction with this payment_id already exists")
		}
		return c.Status(fiber.StatusCreated).JSON(toTransactionResponse(t))
	}
}

// GET /api/transactions
func ListMyTransactionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		return listTransactions(c, database.DB.Model(&models.Transaction{}).Where("user_id = ?", uid))
	}
}

// GET /api/admin/transactions?user_id=&transaction_type=&from=&to= (staff)
func ListAllTransactionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Model(&models.Transaction{})
		if v := c.Query("user_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid user_id")
			}
			dbq = dbq.Where("user_id = ?", id)
		}
		return listTransactions(c, dbq)
	}
}

// GET /api/transactions/:id (owner or staff)
func GetTransactionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid id")
		}
		var t models.Transaction
		if err := database.DB.First(&t, id).Error; err != nil || !auth.IsStaffOrSelf(c, t.UserID) {
			return fiber.NewError(fiber.StatusNotFound, "transaction not found")
		}
		return c.JSON(toTransactionResponse(t))
	}
}

// POST /api/subscriptions
// Subscribing again to the same service on the same property renews valid_until.
func CreateSubscriptionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		var body SubscriptionRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		now := time.Now()
		if !body.ValidUntil.After(now) {
			return fiber.NewError(fiber.StatusBadRequest, "valid_until must be in the future")
		}
		if !exists(&models.Property{}, body.PropertyID) {
			return fiber.NewError(fiber.StatusBadRequest, "property not found")
		}

		sub := models.ServiceSubscription{
			UserID:      uid,
			PropertyID:  body.PropertyID,
			ServiceType: body.ServiceType,
			ValidUntil:  body.ValidUntil,
		}
		err := database.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "property_id"}, {Name: "service_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"valid_until"}),
		}).Create(&sub).Error
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("subscription create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not save subscription")
		}
		// reload: after an update the returned id is driver dependent
		var saved models.ServiceSubscription
		if err := database.DB.
			Where("user_id = ? AND property_id = ? AND service_type = ?", uid, body.PropertyID, body.ServiceType).
			First(&saved).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load subscription")
		}
		return c.Status(fiber.StatusCreated).JSON(SubscriptionResponse{ServiceSubscription: saved, IsActive: saved.IsActive(now)})
	}
}

// GET /api/subscriptions?active=true
func ListSubscriptionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		now := time.Now()
		dbq := database.DB.Where("user_id = ?", uid)
		if v := c.Query("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid active")
			}
			if active {
				dbq = dbq.Where("valid_until > ?", now)
			} else {
				dbq = dbq.Where("valid_until <= ?", now)
			}
		}
		var list []models.ServiceSubscription
		if err := dbq.Order("valid_until DESC").Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list subscriptions")
		}
		resp := make([]SubscriptionResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, SubscriptionResponse{ServiceSubscription: s, IsActive: s.IsActive(now)})
		}
		return c.JSON(resp)
	}
}
