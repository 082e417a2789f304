package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleCustomer    UserRole = "customer"
	RoleAgent       UserRole = "agent"
	RoleAgencyAdmin UserRole = "agency_admin"
	RoleAgencyStaff UserRole = "agency_staff"
	RoleAdmin       UserRole = "admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAgencyAdmin, RoleAgencyStaff, RoleAdmin:
		return true
	}
	return false
}

// IsAgencyRole reports whether users with this role may belong to an agency.
func (r UserRole) IsAgencyRole() bool {
	return r == RoleAgent || r == RoleAgencyAdmin || r == RoleAgencyStaff
}

// IsStaffRole mirrors the is_staff flag: everyone except customers.
func (r UserRole) IsStaffRole() bool {
	return r == RoleAdmin || r.IsAgencyRole()
}

type AgencyRole string

const (
	AgencyRoleAgent   AgencyRole = "agent"
	AgencyRoleManager AgencyRole = "manager"
	AgencyRoleAdmin   AgencyRole = "admin"
	AgencyRoleOwner   AgencyRole = "owner"
)

var ErrAgencyNotAllowed = errors.New("non-agency roles cannot be associated with an agency")

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	FirstName    string     `gorm:"size:255;not null;index:idx_users_name,priority:2" json:"first_name"`
	LastName     string     `gorm:"size:255;not null;index:idx_users_name,priority:1" json:"last_name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         UserRole   `gorm:"size:20;not null;default:customer;index" json:"role"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	IsStaff      bool       `gorm:"not null;default:false" json:"is_staff"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Bio          string     `gorm:"type:text" json:"bio,omitempty"`

	PhoneNumber     *string    `gorm:"size:20;uniqueIndex" json:"phone_number"`
	EmailVerified   bool       `gorm:"not null;default:false" json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	PhoneVerified   bool       `gorm:"not null;default:false" json:"phone_verified"`
	PhoneVerifiedAt *time.Time `json:"phone_verified_at,omitempty"`

	AgencyID         *uint       `gorm:"index" json:"agency_id"`
	Agency           *Agency     `json:"-"`
	AgencyRole       *AgencyRole `gorm:"size:50" json:"agency_role"`
	AgencyVerified   bool        `gorm:"not null;default:false" json:"agency_verified"`
	AgencyVerifiedAt *time.Time  `json:"agency_verified_at,omitempty"`

	// Agent profile
	Licenses          []License                   `gorm:"many2many:user_licenses;" json:"licenses,omitempty"`
	Specializations   []Specialization            `gorm:"many2many:user_specializations;" json:"specializations,omitempty"`
	YearsOfExperience *int                        `json:"years_of_experience,omitempty"`
	Languages         datatypes.JSONSlice[string] `json:"languages"`
	ServiceAreas      datatypes.JSONSlice[string] `json:"service_areas"`
	Rating            decimal.NullDecimal         `gorm:"type:numeric(3,2);index" json:"rating"`
	ReviewsCount      int                         `gorm:"not null;default:0" json:"reviews_count"`

	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	AccountLockedUntil  *time.Time `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`

	NotificationPreferences datatypes.JSONMap `json:"notification_preferences"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Normalize applies the invariants every save must respect.
func (u *User) Normalize() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.IsStaff = u.Role.IsStaffRole()

	if !u.Role.IsAgencyRole() && u.AgencyID != nil {
		return ErrAgencyNotAllowed
	}

	now := time.Now()
	if u.EmailVerified && u.EmailVerifiedAt == nil {
		u.EmailVerifiedAt = &now
	}
	if u.PhoneVerified && u.PhoneVerifiedAt == nil {
		u.PhoneVerifiedAt = &now
	}
	if u.AgencyVerified && u.AgencyVerifiedAt == nil {
		u.AgencyVerifiedAt = &now
	}
	return nil
}

func (u *User) BeforeSave(tx *gorm.DB) error {
	return u.Normalize()
}

// IsLocked reports whether too many failed logins locked the account at t.
func (u *User) IsLocked(t time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(t)
}

// AddRating folds a new review score into the running average.
func (u *User) AddRating(score decimal.Decimal) {
	if !u.Rating.Valid || u.ReviewsCount == 0 {
		u.Rating = decimal.NullDecimal{Decimal: score.Round(2), Valid: true}
	} else {
		total := u.Rating.Decimal.Mul(decimal.NewFromInt(int64(u.ReviewsCount))).Add(score)
		u.Rating = decimal.NullDecimal{
			Decimal: total.Div(decimal.NewFromInt(int64(u.ReviewsCount + 1))).Round(2),
			Valid:   true,
		}
	}
	u.ReviewsCount++
}

// CombinedServiceAreas merges the agent's own areas with those of the agency.
func (u *User) CombinedServiceAreas() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(u.ServiceAreas))
	add := func(areas []string) {
		for _, a := range areas {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	add(u.ServiceAreas)
	if u.Agency != nil {
		add(u.Agency.ServiceAreas)
	}
	return out
}
