package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/metrics"
	"estate-backend/internal/models"
	"estate-backend/internal/paynow"
	"estate-backend/internal/tasks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrIntegrationNotFound = errors.New("paynow integration not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
)

const viewingAccessPeriod = 30 * 24 * time.Hour

// Gateway is the part of the Paynow client the service needs.
type Gateway interface {
	Initiate(ctx context.Context, creds paynow.Credentials, req paynow.InitRequest) (*paynow.InitResponse, error)
	Poll(ctx context.Context, creds paynow.Credentials, pollURL string) (paynow.StatusUpdate, error)
}

type Service struct {
	gw         Gateway
	pub        tasks.Publisher
	dedupe     Deduper
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
}

type Option func(*Service)

func WithDeduper(d Deduper) Option {
	return func(s *Service) { s.dedupe = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg *config.Config, gw Gateway, pub tasks.Publisher, opts ...Option) *Service {
	s := &Service{
		gw:         gw,
		pub:        pub,
		dedupe:     noDedupe{},
		attempts:   cfg.PaymentAttempts,
		retryDelay: cfg.PaymentRetryDelay,
		now:        time.Now,
	}
	if s.attempts < 1 {
		s.attempts = 1
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateInput struct {
	IntegrationID    uint
	Amount           decimal.Decimal
	Currency         string
	BuyerPhone       *string
	MobileMethod     *models.MobileMethod
	TransactionType  *models.TransactionType
	PropertyID       *uint
	RentalContractID *uint
	SaleContractID   *uint
}

// Create stores a new payment for userID and initiates it with the gateway.
// Validation problems with the integration are returned before anything is stored.
func (s *Service) Create(ctx context.Context, userID *uint, in CreateInput) (*models.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var integration models.PaynowIntegration
	if err := database.DB.First(&integration, in.IntegrationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}

	p := &models.Payment{
		UserID:           userID,
		Amount:           in.Amount.Round(2),
		Currency:         in.Currency,
		BuyerPhone:       in.BuyerPhone,
		MobileMethod:     in.MobileMethod,
		IntegrationID:    integration.ID,
		Integration:      integration,
		TransactionType:  in.TransactionType,
		PropertyID:       in.PropertyID,
		RentalContractID: in.RentalContractID,
		SaleContractID:   in.SaleContractID,
	}
	if err := p.CheckCurrency(&integration); err != nil {
		return nil, err
	}
	if err := database.DB.Omit(clause.Associations).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	if err := s.Initiate(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// Initiate sends a Created payment to the gateway, retrying transport failures.
// The outcome is recorded on the payment; the error is only non-nil for storage failures.
func (s *Service) Initiate(ctx context.Context, p *models.Payment) error {
	if p.Status != models.PaymentCreated {
		return nil
	}
	if p.Integration.ID == 0 {
		if err := database.DB.First(&p.Integration, p.IntegrationID).Error; err != nil {
			return fmt.Errorf("load integration: %w", err)
		}
	}
	log := logger.Log.WithField("reference", p.Reference)

	if !p.Integration.IsActive {
		return s.markInitFailed(p, "No active Paynow integration found.")
	}
	if err := p.CheckCurrency(&p.Integration); err != nil {
		return s.markInitFailed(p, "Currency mismatch with integration")
	}

	req := paynow.InitRequest{
		Reference:      p.Reference.String(),
		Amount:         p.Amount,
		AdditionalInfo: additionalInfo(p),
	}
	if p.UserID != nil {
		var u models.User
		if err := database.DB.Select("email").First(&u, *p.UserID).Error; err == nil {
			req.AuthEmail = u.Email
		}
	}
	if p.BuyerPhone != nil && p.MobileMethod != nil {
		req.Phone = *p.BuyerPhone
		req.Method = *p.MobileMethod
	}

	creds := paynow.CredentialsFor(&p.Integration)
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		resp, err := s.gw.Initiate(ctx, creds, req)
		if err == nil {
			return s.markSent(p, resp)
		}
		lastErr = err
		if !paynow.Retryable(err) {
			var gerr *paynow.GatewayError
			msg := err.Error()
			if errors.As(err, &gerr) {
				msg = gerr.Message
			}
			log.WithError(err).Warn("paynow rejected payment")
			return s.markInitFailed(p, msg)
		}
		log.WithError(err).WithField("attempt", attempt).Warn("paynow initiation attempt failed")
		if attempt < s.attempts && s.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return s.markInitFailed(p, fmt.Sprintf("Failed after %d attempts: %v", attempt, ctx.Err()))
			case <-time.After(s.retryDelay):
			}
		}
	}
	return s.markInitFailed(p, fmt.Sprintf("Failed after %d attempts: %v", s.attempts, lastErr))
}

func additionalInfo(p *models.Payment) string {
	if p.TransactionType != nil {
		return p.TransactionType.Label()
	}
	return "Payment " + p.Reference.String()
}

func (s *Service) markSent(p *models.Payment, resp *paynow.InitResponse) error {
	p.PaynowReference = resp.PaynowReference
	p.PollURL = resp.PollURL
	p.PaymentURL = resp.BrowserURL
	p.Instructions = resp.Instructions
	return s.saveInitOutcome(p, models.PaymentSent)
}

func (s *Service) markInitFailed(p *models.Payment, msg string) error {
	p.ErrorMessage = msg
	return s.saveInitOutcome(p, models.PaymentFailed)
}

func (s *Service) saveInitOutcome(p *models.Payment, next models.PaymentStatus) error {
	from := p.Status
	if !from.CanTransition(next) {
		return nil
	}
	p.Status = next
	err := database.DB.Model(&models.Payment{}).Where("id = ?", p.ID).Updates(map[string]any{
		"status":           p.Status,
		"paynow_reference": p.PaynowReference,
		"poll_url":         p.PollURL,
		"payment_url":      p.PaymentURL,
		"instructions":     p.Instructions,
		"error_message":    p.ErrorMessage,
	}).Error
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.Reference, err)
	}
	metrics.PaymentTransitions.WithLabelValues(string(from), string(next), "initiate").Inc()
	logger.Log.WithFields(logrus.Fields{
		"reference": p.Reference,
		"from":      from,
		"to":        next,
	}).Info("payment initiated")
	return nil
}

// FindByReference loads a payment with its integration and user.
func FindByReference(ref string) (*models.Payment, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, ErrPaymentNotFound
	}
	var p models.Payment
	err = database.DB.Preload("Integration").Preload("User").Where("reference = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}
