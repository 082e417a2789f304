package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrContractDates = errors.New("end date must be after start date")

type RentalContract struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	PropertyID      uint            `gorm:"index;not null" json:"property_id"`
	Property        Property        `gorm:"foreignKey:PropertyID;constraint:OnDelete:CASCADE" json:"-"`
	TenantID        uint            `gorm:"index;not null" json:"tenant_id"`
	Tenant          User            `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`
	StartDate       time.Time       `gorm:"type:date;not null" json:"start_date"`
	EndDate         time.Time       `gorm:"type:date;not null" json:"end_date"`
	MonthlyRent     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"monthly_rent"`
	SecurityDeposit decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"security_deposit"`
	IsActive        bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`

	Transactions []Transaction `gorm:"foreignKey:RentalContractID" json:"-"`
}

func (r *RentalContract) BeforeSave(tx *gorm.DB) error {
	if !r.EndDate.After(r.StartDate) {
		return ErrContractDates
	}
	return nil
}

// DurationDays is the number of whole days the lease runs.
func (r *RentalContract) DurationDays() int {
	return int(r.EndDate.Sub(r.StartDate).Hours() / 24)
}

type SaleContract struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PropertyID  uint            `gorm:"index;not null" json:"property_id"`
	Property    Property        `gorm:"foreignKey:PropertyID;constraint:OnDelete:CASCADE" json:"-"`
	BuyerID     uint            `gorm:"index;not null" json:"buyer_id"`
	Buyer       User            `gorm:"foreignKey:BuyerID;constraint:OnDelete:CASCADE" json:"-"`
	SalePrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"sale_price"`
	IsCompleted bool            `gorm:"not null;default:false" json:"is_completed"`
	CreatedAt   time.Time       `json:"created_at"`

	Transactions []Transaction `gorm:"foreignKey:SaleContractID" json:"-"`
}

// TotalFees sums the ledger entries linked through column = id.
func TotalFees(db *gorm.DB, column string, id uint) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.Model(&Transaction{}).
		Select("SUM(amount)").
		Where(column+" = ?", id).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
