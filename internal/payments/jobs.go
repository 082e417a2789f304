package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/tasks"

	"gorm.io/gorm"
)

// SucceededHandler sends the payment confirmation once a payment is paid.
func SucceededHandler(m tasks.Mailer) tasks.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var msg SucceededPayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}

		var p models.Payment
		err := database.DB.WithContext(ctx).Preload("User").First(&p, msg.PaymentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Log.WithField("payment_id", msg.PaymentID).Warn("payment for succeeded job no longer exists")
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPaid {
			logger.Log.WithField("reference", p.Reference).Warnf("payment is %s, skipping confirmation", p.Status)
			return nil
		}
		if p.User == nil || p.User.Email == "" {
			return nil
		}

		var receipt models.Receipt
		_ = database.DB.WithContext(ctx).Where("payment_id = ?", p.ID).First(&receipt).Error

		return m.Send(ctx, tasks.Email{
			To:      p.User.Email,
			Subject: "Your Payment Confirmation for " + p.Reference.String(),
			Body:    confirmationBody(&p, &receipt),
		})
	}
}

func confirmationBody(p *models.Payment, r *models.Receipt) string {
	var b strings.Builder
	name := "Customer"
	if p.User != nil && p.User.FullName() != "" {
		name = p.User.FullName()
	}
	fmt.Fprintf(&b, "Dear %s,\n\nThank you for your payment!\n\n", name)
	fmt.Fprintf(&b, "Payment Reference: %s\n", p.Reference)
	fmt.Fprintf(&b, "Amount: %s %s\n", p.Currency, p.Amount.StringFixed(2))
	fmt.Fprintf(&b, "Status: %s\n", p.Status)
	fmt.Fprintf(&b, "Date: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	if r.ReceiptNumber != "" {
		fmt.Fprintf(&b, "Receipt: %s\n", r.ReceiptNumber)
	}
	return b.String()
}
