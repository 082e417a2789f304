package payments

import (
	"context"
	"errors"
	"fmt"

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

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Result describes what a status update did to the payment.
type Result struct {
	Payment *models.Payment
	From    models.PaymentStatus
	To      models.PaymentStatus
	Applied bool
	// set when the update was accepted but deliberately not applied
	Ignored string
}

type SucceededPayload struct {
	PaymentID uint   `json:"payment_id"`
	Reference string `json:"reference"`
}

// HandleStatusUpdate verifies a gateway status message and applies it through
// the state machine. Replays and disallowed transitions are ignored, not errors.
func (s *Service) HandleStatusUpdate(ctx context.Context, fields paynow.Fields, source string) (*Result, error) {
	u, err := paynow.ParseStatusUpdate(fields)
	if err != nil {
		return nil, err
	}
	ref, err := uuid.Parse(u.Reference)
	if err != nil {
		return nil, ErrPaymentNotFound
	}

	var integration models.PaynowIntegration
	err = database.DB.Joins("JOIN payments ON payments.integration_id = paynow_integrations.id").
		Where("payments.reference = ?", ref).First(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if !paynow.VerifyHash(fields, integration.IntegrationKey) {
		return nil, paynow.ErrInvalidHash
	}

	key := dedupeKey(ref.String(), fields.Get("hash"))
	fresh, err := s.dedupe.Claim(ctx, key)
	if err != nil {
		logger.Log.WithError(err).Warn("dedupe store unavailable, processing anyway")
		fresh = true
	}
	if !fresh {
		p, err := FindByReference(ref.String())
		if err != nil {
			return nil, err
		}
		return &Result{Payment: p, From: p.Status, To: p.Status, Ignored: "duplicate message"}, nil
	}

	res, err := s.apply(ref, u, integration, source)
	if err != nil {
		s.dedupe.Release(ctx, key)
		return nil, err
	}
	// an ignored message may become applicable once the payment moves on
	if !res.Applied {
		s.dedupe.Release(ctx, key)
	}

	if res.Applied && res.To == models.PaymentPaid && res.From != models.PaymentPaid {
		s.publishSucceeded(ctx, res.Payment)
	}
	return res, nil
}

func (s *Service) apply(ref uuid.UUID, u paynow.StatusUpdate, integration models.PaynowIntegration, source string) (*Result, error) {
	res := &Result{}
	log := logger.Log.WithFields(logrus.Fields{"reference": ref, "source": source, "gateway_status": u.Status})

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("reference = ?", ref).First(&p).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		p.Integration = integration
		if p.UserID != nil {
			var user models.User
			if err := tx.First(&user, *p.UserID).Error; err == nil {
				p.User = &user
			}
		}
		res.Payment = &p
		res.From, res.To = p.Status, p.Status

		if u.Amount != "" {
			amt, err := decimal.NewFromString(u.Amount)
			if err != nil || !amt.Equal(p.Amount) {
				res.Ignored = fmt.Sprintf("amount mismatch: gateway %q, payment %s", u.Amount, p.Amount.StringFixed(2))
				log.Warn(res.Ignored)
				return nil
			}
		}

		next, ok := paynow.MapStatus(u.Status)
		if !ok {
			res.Ignored = "unknown gateway status"
			log.Warn(res.Ignored)
			return nil
		}
		if !p.Status.CanTransition(next) {
			res.Ignored = fmt.Sprintf("transition %s -> %s not allowed", p.Status, next)
			log.Info("ignoring status update: " + res.Ignored)
			return nil
		}

		updates := map[string]any{"status": next}
		if u.PaynowReference != "" && p.PaynowReference == "" {
			updates["paynow_reference"] = u.PaynowReference
			p.PaynowReference = u.PaynowReference
		}
		if u.PollURL != "" {
			updates["poll_url"] = u.PollURL
			p.PollURL = u.PollURL
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		p.Status = next
		res.To = next
		res.Applied = true

		if next == models.PaymentPaid && res.From != models.PaymentPaid {
			if err := s.settle(tx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Applied && res.From != res.To {
		metrics.PaymentTransitions.WithLabelValues(string(res.From), string(res.To), source).Inc()
		log.WithFields(logrus.Fields{"from": res.From, "to": res.To}).Info("payment status changed")
	}
	return res, nil
}

// settle runs the side effects of the first transition to Paid, inside tx.
func (s *Service) settle(tx *gorm.DB, p *models.Payment) error {
	if _, err := GenerateReceipt(tx, p); err != nil {
		return err
	}
	if p.TransactionType == nil || p.UserID == nil {
		return nil
	}

	entry := models.Transaction{
		UserID:           *p.UserID,
		Type:             *p.TransactionType,
		Amount:           p.Amount,
		PropertyID:       p.PropertyID,
		RentalContractID: p.RentalContractID,
		SaleContractID:   p.SaleContractID,
		PaymentID:        p.Reference.String(),
	}

	if *p.TransactionType == models.TxViewing && p.PropertyID != nil {
		sub := models.ServiceSubscription{
			UserID:      *p.UserID,
			PropertyID:  *p.PropertyID,
			ServiceType: models.ServiceViewing,
			ValidUntil:  s.now().Add(viewingAccessPeriod),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "property_id"}, {Name: "service_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"valid_until"}),
		}).Create(&sub).Error
		if err != nil {
			return fmt.Errorf("grant viewing access: %w", err)
		}
		if sub.ID == 0 {
			tx.Model(&models.ServiceSubscription{}).
				Where("user_id = ? AND property_id = ? AND service_type = ?", sub.UserID, sub.PropertyID, sub.ServiceType).
				Pluck("id", &sub.ID)
		}
		if sub.ID != 0 {
			entry.SubscriptionID = &sub.ID
		}
	}

	err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (s *Service) publishSucceeded(ctx context.Context, p *models.Payment) {
	job, err := tasks.NewJob(tasks.JobPaymentSucceeded, SucceededPayload{PaymentID: p.ID, Reference: p.Reference.String()})
	if err == nil {
		err = s.pub.Publish(ctx, job)
	}
	if err != nil {
		logger.Log.WithError(err).WithField("reference", p.Reference).Error("could not publish payment.succeeded")
	}
}

// Poll asks the gateway for the status of one payment and applies it.
func (s *Service) Poll(ctx context.Context, p *models.Payment) (*Result, error) {
	if p.PollURL == "" {
		return &Result{Payment: p, From: p.Status, To: p.Status, Ignored: "payment has no poll url"}, nil
	}
	if p.Integration.ID == 0 {
		if err := database.DB.First(&p.Integration, p.IntegrationID).Error; err != nil {
			return nil, err
		}
	}
	u, err := s.gw.Poll(ctx, paynow.CredentialsFor(&p.Integration), p.PollURL)
	if err != nil {
		return nil, err
	}
	if u.Reference != p.Reference.String() {
		return nil, fmt.Errorf("poll reply for %s does not match payment %s", u.Reference, p.Reference)
	}
	return s.HandleStatusUpdate(ctx, u.Fields, SourcePoll)
}

// PollPending polls every Sent payment that has a poll url. It returns how many changed status.
func (s *Service) PollPending(ctx context.Context) (int, error) {
	var pending []models.Payment
	err := database.DB.Preload("Integration").
		Where("status = ? AND poll_url <> ''", models.PaymentSent).
		Order("created_at").Find(&pending).Error
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Poll(ctx, &pending[i])
		if err != nil {
			logger.Log.WithError(err).WithField("reference", pending[i].Reference).Warn("poll failed")
			continue
		}
		if res.Applied && res.From != res.To {
			changed++
		}
	}
	logger.Log.WithFields(logrus.Fields{"checked": len(pending), "changed": changed}).Info("pending payments checked")
	return changed, nil
}
