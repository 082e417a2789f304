package payments

import (
	"errors"
	"strings"

	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/paynow"
	"estate-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const integrationsCacheKey = "paynow:integrations:active"

type IntegrationResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
	ResultURL string `json:"result_url"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

func toIntegrationResponse(in models.PaynowIntegration, withStatus bool) IntegrationResponse {
	r := IntegrationResponse{
		ID:        in.ID,
		Name:      in.Name,
		Currency:  in.Currency,
		ReturnURL: in.ReturnURL,
		ResultURL: in.ResultURL,
	}
	if withStatus {
		active := in.IsActive
		r.IsActive = &active
	}
	return r
}

type IntegrationRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=100"`
	IntegrationID  *string `json:"integration_id" validate:"omitempty,max=100"`
	IntegrationKey *string `json:"integration_key" validate:"omitempty,max=100"`
	ReturnURL      *string `json:"return_url" validate:"omitempty,url"`
	ResultURL      *string `json:"result_url" validate:"omitempty,url"`
	IsActive       *bool   `json:"is_active"`
	Currency       *string `json:"currency" validate:"omitempty,currency"`
}

type PaymentResponse struct {
	models.Payment
	IsRedirectable bool `json:"is_redirectable"`
	IsPollable     bool `json:"is_pollable"`
}

func toPaymentResponse(p *models.Payment) PaymentResponse {
	return PaymentResponse{
		Payment:        *p,
		IsRedirectable: p.PaymentURL != "",
		IsPollable:     p.PollURL != "",
	}
}

// GET /api/payments/integrations
func ListIntegrationsHandler(c *cache.Cache) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		var resp []IntegrationResponse
		if c.GetJSON(integrationsCacheKey, &resp) {
			return ctx.JSON(resp)
		}

		var integrations []models.PaynowIntegration
		if err := database.DB.Where("is_active = ?", true).Order("name").Find(&integrations).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list integrations")
		}
		resp = make([]IntegrationResponse, 0, len(integrations))
		for _, in := range integrations {
			resp = append(resp, toIntegrationResponse(in, false))
		}
		c.SetJSON(integrationsCacheKey, resp)
		return ctx.JSON(resp)
	}
}

// POST /api/admin/payments/integrations
func CreateIntegrationHandler(c *cache.Cache) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		var body IntegrationRequest
		if err := validation.ParseBody(ctx, &body); err != nil {
			return err
		}
		if body.Name == nil || body.IntegrationID == nil || body.IntegrationKey == nil ||
			body.ReturnURL == nil || body.ResultURL == nil {
			return fiber.NewError(fiber.StatusBadRequest, "name, integration_id, integration_key, return_url and result_url are required")
		}

		in := models.PaynowIntegration{
			Name:           strings.TrimSpace(*body.Name),
			IntegrationID:  *body.IntegrationID,
			IntegrationKey: *body.IntegrationKey,
			ReturnURL:      *body.ReturnURL,
			ResultURL:      *body.ResultURL,
			IsActive:       true,
			Currency:       "USD",
		}
		if body.IsActive != nil {
			in.IsActive = *body.IsActive
		}
		if body.Currency != nil {
			in.Currency = *body.Currency
		}

		var count int64
		database.DB.Model(&models.PaynowIntegration{}).Where("name = ?", in.Name).Count(&count)
		if count > 0 {
			return fiber.NewError(fiber.StatusConflict, "an integration with this name already exists")
		}
		if err := database.DB.Create(&in).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not create integration")
		}
		// a false is_active is skipped on insert in favour of the column default
		if body.IsActive != nil && !*body.IsActive {
			in.IsActive = false
			database.DB.Model(&in).Update("is_active", false)
		}
		c.Delete(integrationsCacheKey)
		return ctx.Status(fiber.StatusCreated).JSON(toIntegrationResponse(in, true))
	}
}

// PUT /api/admin/payments/integrations/:id
func UpdateIntegrationHandler(c *cache.Cache) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		var in models.PaynowIntegration
		if err := database.DB.First(&in, "id = ?", ctx.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}

		var body IntegrationRequest
		if err := validation.ParseBody(ctx, &body); err != nil {
			return err
		}
		if body.Name != nil {
			in.Name = strings.TrimSpace(*body.Name)
		}
		if body.IntegrationID != nil {
			in.IntegrationID = *body.IntegrationID
		}
		if body.IntegrationKey != nil {
			in.IntegrationKey = *body.IntegrationKey
		}
		if body.ReturnURL != nil {
			in.ReturnURL = *body.ReturnURL
		}
		if body.ResultURL != nil {
			in.ResultURL = *body.ResultURL
		}
		if body.IsActive != nil {
			in.IsActive = *body.IsActive
		}
		if body.Currency != nil {
			in.Currency = *body.Currency
		}

		if err := database.DB.Save(&in).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not update integration")
		}
		c.Delete(integrationsCacheKey)
		return ctx.JSON(toIntegrationResponse(in, true))
	}
}

type CreatePaymentRequest struct {
	IntegrationID    uint                    `json:"integration_id" validate:"required"`
	Amount           decimal.Decimal         `json:"amount"`
	Currency         string                  `json:"currency" validate:"omitempty,currency"`
	BuyerPhone       *string                 `json:"buyer_phone" validate:"omitempty,phone"`
	MobileMethod     *models.MobileMethod    `json:"mobile_method" validate:"omitempty,oneof=ecocash onemoney"`
	TransactionType  *models.TransactionType `json:"transaction_type" validate:"omitempty,oneof=admin processing commitment viewing rent purchase"`
	PropertyID       *uint                   `json:"property_id"`
	RentalContractID *uint                   `json:"rental_contract_id"`
	SaleContractID   *uint                   `json:"sale_contract_id"`
}

// checkContractLinks makes sure a linked contract exists, concerns the caller and
// matches property_id. property_id is filled from the contract when omitted.
func checkContractLinks(c *fiber.Ctx, body *CreatePaymentRequest) error {
	if body.RentalContractID != nil && body.SaleContractID != nil {
		return fiber.NewError(fiber.StatusBadRequest, "a payment links to one contract only")
	}
	uid, _ := auth.CurrentUserID(c)

	link := func(propertyID, partyID uint) error {
		if body.PropertyID != nil && *body.PropertyID != propertyID {
			return fiber.NewError(fiber.StatusBadRequest, "contract does not belong to property_id")
		}
		if !auth.IsStaff(c) && partyID != uid {
			var prop models.Property
			if err := database.DB.Select("id", "owner_id").First(&prop, propertyID).Error; err != nil || prop.OwnerID != uid {
				return fiber.NewError(fiber.StatusForbidden, "contract belongs to another user")
			}
		}
		if body.PropertyID == nil {
			body.PropertyID = &propertyID
		}
		return nil
	}

	if body.RentalContractID != nil {
		var rc models.RentalContract
		if err := database.DB.First(&rc, *body.RentalContractID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "rental contract not found")
		}
		return link(rc.PropertyID, rc.TenantID)
	}
	if body.SaleContractID != nil {
		var sc models.SaleContract
		if err := database.DB.First(&sc, *body.SaleContractID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "sale contract not found")
		}
		return link(sc.PropertyID, sc.BuyerID)
	}
	return nil
}

// POST /api/payments
func CreatePaymentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreatePaymentRequest
		if err := validation.ParseBody(c, &body); err != nil {
			return err
		}
		if body.MobileMethod != nil && body.BuyerPhone == nil {
			return fiber.NewError(fiber.StatusBadRequest, "buyer_phone is required for mobile payments")
		}

		if err := checkContractLinks(c, &body); err != nil {
			return err
		}
		if body.PropertyID != nil {
			var prop models.Property
			if err := database.DB.Select("id", "viewing_fee").First(&prop, *body.PropertyID).Error; err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "property not found")
			}
			// viewing fees default to the listing's fee
			if body.Amount.IsZero() && body.TransactionType != nil && *body.TransactionType == models.TxViewing {
				body.Amount = prop.ViewingFee
			}
		}

		uid, _ := auth.CurrentUserID(c)
		p, err := svc.Create(c.UserContext(), &uid, CreateInput{
			IntegrationID:    body.IntegrationID,
			Amount:           body.Amount,
			Currency:         body.Currency,
			BuyerPhone:       body.BuyerPhone,
			MobileMethod:     body.MobileMethod,
			TransactionType:  body.TransactionType,
			PropertyID:       body.PropertyID,
			RentalContractID: body.RentalContractID,
			SaleContractID:   body.SaleContractID,
		})
		switch {
		case errors.Is(err, ErrIntegrationNotFound):
			return fiber.NewError(fiber.StatusBadRequest, "integration not found")
		case errors.Is(err, models.ErrCurrencyMismatch):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInvalidAmount):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case err != nil:
			logger.FromCtx(c).WithError(err).Error("payment create failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not create payment")
		}

		resp := fiber.Map{
			"success": p.Status == models.PaymentSent,
			"payment": toPaymentResponse(p),
			"message": "Payment initiated successfully",
		}
		if p.Status == models.PaymentFailed {
			resp["message"] = "Payment initiation failed: " + p.ErrorMessage
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	}
}

// GET /api/payments
func ListMyPaymentsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		dbq := database.DB.Preload("Integration").Order("created_at DESC")
		if !(auth.IsAdmin(c) && c.Query("all") == "true") {
			dbq = dbq.Where("user_id = ?", uid)
		}
		if st := c.Query("status"); st != "" {
			dbq = dbq.Where("status = ?", st)
		}

		var list []models.Payment
		if err := dbq.Find(&list).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list payments")
		}
		resp := make([]PaymentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toPaymentResponse(&list[i]))
		}
		return c.JSON(resp)
	}
}

func loadOwnPayment(c *fiber.Ctx) (*models.Payment, error) {
	p, err := FindByReference(c.Params("reference"))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "payment not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load payment")
	}
	uid, _ := auth.CurrentUserID(c)
	if !auth.IsStaff(c) && (p.UserID == nil || *p.UserID != uid) {
		return nil, fiber.NewError(fiber.StatusNotFound, "payment not found")
	}
	return p, nil
}

// GET /api/payments/:reference
func GetPaymentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadOwnPayment(c)
		if err != nil {
			return err
		}
		return c.JSON(toPaymentResponse(p))
	}
}

// POST /api/payments/:reference/poll
func PollPaymentHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadOwnPayment(c)
		if err != nil {
			return err
		}
		res, err := svc.Poll(c.UserContext(), p)
		if err != nil {
			logger.FromCtx(c).WithError(err).WithField("reference", p.Reference).Warn("poll failed")
			return fiber.NewError(fiber.StatusBadGateway, "could not check payment status with the gateway")
		}
		return c.JSON(fiber.Map{
			"payment": toPaymentResponse(res.Payment),
			"changed": res.Applied && res.From != res.To,
		})
	}
}

// GET /api/payments/:reference/receipt
func ReceiptHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadOwnPayment(c)
		if err != nil {
			return err
		}
		r, err := GenerateReceipt(database.DB, p)
		if errors.Is(err, ErrNotPaid) {
			return fiber.NewError(fiber.StatusNotFound, "no receipt: payment is not paid")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not load receipt")
		}
		return c.JSON(fiber.Map{
			"receipt":   r,
			"reference": p.Reference,
		})
	}
}

// POST /api/payments/webhook/paynow
// Paynow posts status updates here as a url-encoded form.
func WebhookHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fields, err := paynow.ParseFields(string(c.Body()))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed body")
		}
		res, err := svc.HandleStatusUpdate(c.UserContext(), fields, SourceWebhook)
		switch {
		case errors.Is(err, paynow.ErrMissingFields):
			return fiber.NewError(fiber.StatusBadRequest, "missing reference, status or hash")
		case errors.Is(err, paynow.ErrInvalidHash):
			logger.FromCtx(c).WithField("reference", fields.Get("reference")).Warn("webhook hash mismatch")
			return fiber.NewError(fiber.StatusBadRequest, "invalid hash")
		case errors.Is(err, ErrPaymentNotFound):
			return fiber.NewError(fiber.StatusNotFound, "payment not found")
		case err != nil:
			logger.FromCtx(c).WithError(err).Error("webhook processing failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not process status update")
		}
		return c.JSON(fiber.Map{
			"status":  res.To,
			"applied": res.Applied,
		})
	}
}
