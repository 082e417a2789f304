package payments

import (
	"errors"
	"fmt"
	"time"

	"estate-backend/internal/models"

	"gorm.io/gorm"
)

var ErrNotPaid = errors.New("payment is not marked as paid")

const notAvailable = "N/A"

func receiptNumber(p *models.Payment, issued time.Time) string {
	return fmt.Sprintf("RCT-%s-%06d", issued.Format("20060102"), p.ID)
}

// GenerateReceipt issues the receipt for a paid payment, or returns the one
// already issued. p.User and p.Integration should be loaded.
func GenerateReceipt(tx *gorm.DB, p *models.Payment) (*models.Receipt, error) {
	if p.Status != models.PaymentPaid {
		return nil, ErrNotPaid
	}

	var existing models.Receipt
	err := tx.Where("payment_id = ?", p.ID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	name, email, phone := notAvailable, notAvailable, notAvailable
	if p.User != nil {
		if n := p.User.FullName(); n != "" {
			name = n
		}
		email = p.User.Email
		if p.User.PhoneNumber != nil && *p.User.PhoneNumber != "" {
			phone = *p.User.PhoneNumber
		}
	}
	if p.BuyerPhone != nil && *p.BuyerPhone != "" {
		phone = *p.BuyerPhone
	}
	method := "Unknown"
	if p.Integration.Name != "" {
		method = p.Integration.Name
	}

	r := &models.Receipt{
		PaymentID:            p.ID,
		ReceiptNumber:        receiptNumber(p, time.Now()),
		CustomerName:         name,
		CustomerEmail:        email,
		CustomerPhone:        phone,
		AmountPaid:           p.Amount,
		Currency:             p.Currency,
		PaymentMethodDetails: method,
		ItemsDescription: fmt.Sprintf("Payment for services/goods related to reference %s. Amount: %s %s.",
			p.Reference, p.Currency, p.Amount.StringFixed(2)),
	}
	if err := tx.Create(r).Error; err != nil {
		return nil, fmt.Errorf("create receipt: %w", err)
	}
	return r, nil
}
