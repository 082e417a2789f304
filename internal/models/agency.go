package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Agency struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	Name         string                      `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description  string                      `gorm:"type:text" json:"description"`
	Website      string                      `gorm:"size:255" json:"website"`
	Verified     bool                        `gorm:"not null;default:false" json:"verified"`
	VerifiedAt   *time.Time                  `json:"verified_at"`
	FoundedDate  *time.Time                  `json:"founded_date"`
	Address      string                      `gorm:"type:text" json:"address"`
	Latitude     *float64                    `json:"latitude"`
	Longitude    *float64                    `json:"longitude"`
	ServiceAreas datatypes.JSONSlice[string] `json:"service_areas"`
	Languages    datatypes.JSONSlice[string] `json:"languages"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`

	Members []User `gorm:"foreignKey:AgencyID" json:"-"`
}

func (a *Agency) BeforeSave(tx *gorm.DB) error {
	if a.Verified && a.VerifiedAt == nil {
		now := time.Now()
		a.VerifiedAt = &now
	}
	return nil
}

// ActiveAgentCount counts active members with the agent role.
func ActiveAgentCount(db *gorm.DB, agencyID uint) (int64, error) {
	var n int64
	err := db.Model(&User{}).
		Where("agency_id = ? AND role = ? AND is_active = ?", agencyID, RoleAgent, true).
		Count(&n).Error
	return n, err
}

type LicenseType string

const (
	LicenseSales     LicenseType = "sales"
	LicenseBroker    LicenseType = "broker"
	LicenseAppraiser LicenseType = "appraiser"
)

type License struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	Number     string      `gorm:"size:100;not null" json:"number"`
	Type       LicenseType `gorm:"size:20;not null" json:"type"`
	State      string      `gorm:"size:100;not null" json:"state"`
	ExpiryDate time.Time   `gorm:"type:date;not null;index" json:"expiry_date"`
	Verified   bool        `gorm:"not null;default:false" json:"verified"`
	VerifiedAt *time.Time  `json:"verified_at"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Active reports whether the license has not expired as of t.
func (l License) Active(t time.Time) bool {
	y, m, d := t.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := l.ExpiryDate.Date()
	return !time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).Before(today)
}

type Specialization struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Description string `gorm:"type:text" json:"description"`
}
