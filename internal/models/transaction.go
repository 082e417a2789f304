package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxAdmin      TransactionType = "admin"
	TxProcessing TransactionType = "processing"
	TxCommitment TransactionType = "commitment"
	TxViewing    TransactionType = "viewing"
	TxRent       TransactionType = "rent"
	TxPurchase   TransactionType = "purchase"
)

var transactionTypeLabels = map[TransactionType]string{
	TxAdmin:      "Administration Fee",
	TxProcessing: "Processing Fee",
	TxCommitment: "Commitment Fee",
	TxViewing:    "Viewing Fee",
	TxRent:       "Rent Payment",
	TxPurchase:   "Purchase Payment",
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypeLabels[t]
	return ok
}

func (t TransactionType) Label() string {
	return transactionTypeLabels[t]
}

// Transaction is a ledger entry for a fee or payment made by a user.
type Transaction struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"index;not null" json:"user_id"`
	Type             TransactionType `gorm:"size:20;not null;index" json:"transaction_type"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	PropertyID       *uint           `gorm:"index" json:"property_id"`
	SubscriptionID   *uint           `gorm:"index" json:"subscription_id"`
	RentalContractID *uint           `gorm:"index" json:"rental_contract_id"`
	SaleContractID   *uint           `gorm:"index" json:"sale_contract_id"`
	PaymentID        string          `gorm:"size:255;not null;uniqueIndex" json:"payment_id"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
}

type ServiceType string

const (
	ServiceViewing  ServiceType = "viewing"
	ServiceRental   ServiceType = "rental"
	ServicePurchase ServiceType = "purchase"
)

func (s ServiceType) Valid() bool {
	return s == ServiceViewing || s == ServiceRental || s == ServicePurchase
}

type ServiceSubscription struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UserID      uint        `gorm:"not null;uniqueIndex:idx_subscription_unique" json:"user_id"`
	PropertyID  uint        `gorm:"not null;uniqueIndex:idx_subscription_unique" json:"property_id"`
	ServiceType ServiceType `gorm:"size:20;not null;uniqueIndex:idx_subscription_unique" json:"service_type"`
	ValidUntil  time.Time   `gorm:"not null" json:"valid_until"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (s *ServiceSubscription) IsActive(now time.Time) bool {
	return s.ValidUntil.After(now)
}
