package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaynowIntegration holds the merchant credentials for one Paynow integration.
type PaynowIntegration struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	IntegrationID  string    `gorm:"size:100;not null" json:"-"`
	IntegrationKey string    `gorm:"size:100;not null" json:"-"`
	ReturnURL      string    `gorm:"size:200;not null" json:"return_url"`
	ResultURL      string    `gorm:"size:200;not null" json:"result_url"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	Currency       string    `gorm:"size:3;not null;default:USD" json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "Created"
	PaymentSent      PaymentStatus = "Sent"
	PaymentPaid      PaymentStatus = "Paid"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentCancelled PaymentStatus = "Cancelled"
	PaymentRefunded  PaymentStatus = "Refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentCreated: {PaymentSent, PaymentFailed},
	PaymentSent:    {PaymentSent, PaymentPaid, PaymentFailed, PaymentCancelled},
	PaymentPaid:    {PaymentRefunded},
}

// CanTransition reports whether a payment in status s may move to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further gateway updates.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

type MobileMethod string

const (
	MethodEcocash  MobileMethod = "ecocash"
	MethodOnemoney MobileMethod = "onemoney"
)

func (m MobileMethod) Valid() bool {
	return m == MethodEcocash || m == MethodOnemoney
}

var ErrCurrencyMismatch = errors.New("payment currency does not match integration currency")

type Payment struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       *uint           `gorm:"index" json:"user_id"`
	User         *User           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Reference    uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"reference"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null;default:USD" json:"currency"`
	Status       PaymentStatus   `gorm:"size:20;not null;default:Created;index" json:"status"`
	BuyerPhone   *string         `gorm:"size:20" json:"buyer_phone"`
	MobileMethod *MobileMethod   `gorm:"size:20" json:"mobile_method,omitempty"`

	IntegrationID uint              `gorm:"not null;index" json:"-"`
	Integration   PaynowIntegration `gorm:"constraint:OnDelete:RESTRICT" json:"integration"`

	PaynowReference string `gorm:"size:100" json:"paynow_payment_id"`
	PollURL         string `gorm:"size:500" json:"poll_url"`
	PaymentURL      string `gorm:"size:500" json:"payment_url"`
	Instructions    string `gorm:"type:text" json:"instructions,omitempty"`
	ErrorMessage    string `gorm:"type:text" json:"-"`

	// What the payment settles; used for the ledger entry once paid.
	TransactionType  *TransactionType `gorm:"size:20" json:"transaction_type,omitempty"`
	PropertyID       *uint            `gorm:"index" json:"property_id,omitempty"`
	RentalContractID *uint            `json:"rental_contract_id,omitempty"`
	SaleContractID   *uint            `json:"sale_contract_id,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.Reference == uuid.Nil {
		p.Reference = uuid.New()
	}
	if p.Status == "" {
		p.Status = PaymentCreated
	}
	return nil
}

// CheckCurrency compares the payment currency against its integration.
func (p *Payment) CheckCurrency(integration *PaynowIntegration) error {
	if integration != nil && p.Currency != integration.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, p.Currency, integration.Currency)
	}
	return nil
}

func (p *Payment) String() string {
	return fmt.Sprintf("Payment %s - %s ($%s %s)", p.Reference, p.Status, p.Amount.StringFixed(2), p.Currency)
}

type Receipt struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	PaymentID            uint            `gorm:"uniqueIndex;not null" json:"payment_id"`
	ReceiptNumber        string          `gorm:"size:50;uniqueIndex;not null" json:"receipt_number"`
	CustomerName         string          `gorm:"size:255" json:"customer_name"`
	CustomerEmail        string          `gorm:"size:255" json:"customer_email"`
	CustomerPhone        string          `gorm:"size:50" json:"customer_phone"`
	AmountPaid           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_paid"`
	Currency             string          `gorm:"size:3;not null" json:"currency"`
	PaymentMethodDetails string          `gorm:"size:255" json:"payment_method_details"`
	ItemsDescription     string          `gorm:"type:text" json:"items_description"`
	Notes                string          `gorm:"type:text" json:"notes"`
	IssuedAt             time.Time       `gorm:"autoCreateTime" json:"issued_at"`
}
