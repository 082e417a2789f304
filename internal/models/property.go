package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyHouse      PropertyType = "house"
	PropertyLand       PropertyType = "land"
	PropertyCommercial PropertyType = "commercial"
)

func (t PropertyType) Valid() bool {
	switch t {
	case PropertyApartment, PropertyHouse, PropertyLand, PropertyCommercial:
		return true
	}
	return false
}

type PropertyStatus string

const (
	StatusAvailable        PropertyStatus = "available"
	StatusSold             PropertyStatus = "sold"
	StatusRented           PropertyStatus = "rented"
	StatusUnderMaintenance PropertyStatus = "under_maintenance"
)

func (s PropertyStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusRented, StatusUnderMaintenance:
		return true
	}
	return false
}

type ListingType string

const (
	ListingSale ListingType = "sale"
	ListingRent ListingType = "rent"
	ListingBoth ListingType = "both"
)

func (l ListingType) Valid() bool {
	return l == ListingSale || l == ListingRent || l == ListingBoth
}

func (l ListingType) AllowsRent() bool { return l == ListingRent || l == ListingBoth }
func (l ListingType) AllowsSale() bool { return l == ListingSale || l == ListingBoth }

var (
	ErrRentalSold      = errors.New("a rental property cannot have status 'sold'")
	ErrSaleRented      = errors.New("a sale property cannot have status 'rented'")
	ErrNegativePrice   = errors.New("price cannot be negative")
	ErrNonPositiveArea = errors.New("area must be greater than zero")
)

var DefaultViewingFee = decimal.NewFromInt(50)

type Property struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Title         string         `gorm:"size:255;not null" json:"title"`
	Description   string         `gorm:"type:text;not null" json:"description"`
	PropertyType  PropertyType   `gorm:"size:20;not null;index:idx_property_type_status,priority:1" json:"property_type"`
	Status        PropertyStatus `gorm:"size:20;not null;default:available;index:idx_property_type_status,priority:2" json:"status"`
	ListingType   ListingType    `gorm:"size:10;not null;default:sale" json:"listing_type"`
	Featured      bool           `gorm:"not null;default:false" json:"featured"`
	FeaturedUntil *time.Time     `json:"featured_until"`

	Address string `gorm:"size:255;not null" json:"address"`
	City    string `gorm:"size:100;not null;index" json:"city"`
	State   string `gorm:"size:100;not null" json:"state"`
	ZipCode string `gorm:"size:20;not null" json:"zip_code"`

	Price      decimal.Decimal `gorm:"type:numeric(12,2);not null;index" json:"price"`
	ViewingFee decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"viewing_fee"`
	Bedrooms   int             `gorm:"not null;default:0" json:"bedrooms"`
	Bathrooms  decimal.Decimal `gorm:"type:numeric(3,1);not null" json:"bathrooms"`
	Area       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"area"`

	OwnerID         uint    `gorm:"index;not null" json:"owner_id"`
	Owner           User    `gorm:"foreignKey:OwnerID" json:"-"`
	ListingAgencyID *uint   `gorm:"index" json:"listing_agency_id"`
	ListingAgency   *Agency `gorm:"foreignKey:ListingAgencyID;constraint:OnDelete:SET NULL" json:"-"`

	Images []PropertyImage           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Videos []PropertyVideo           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Places []PropertyPlaceOfInterest `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the listing/status combination and the numeric fields.
func (p *Property) Validate() error {
	if p.ListingType == ListingRent && p.Status == StatusSold {
		return ErrRentalSold
	}
	if p.ListingType == ListingSale && p.Status == StatusRented {
		return ErrSaleRented
	}
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	if !p.Area.IsPositive() {
		return ErrNonPositiveArea
	}
	return nil
}

func (p *Property) BeforeSave(tx *gorm.DB) error {
	return p.Validate()
}

type PlaceType string

const (
	PlaceSchool     PlaceType = "school"
	PlaceHospital   PlaceType = "hospital"
	PlacePark       PlaceType = "park"
	PlaceShopping   PlaceType = "shopping"
	PlaceTransport  PlaceType = "transport"
	PlaceRestaurant PlaceType = "restaurant"
	PlaceOther      PlaceType = "other"
)

func (t PlaceType) Valid() bool {
	switch t {
	case PlaceSchool, PlaceHospital, PlacePark, PlaceShopping, PlaceTransport, PlaceRestaurant, PlaceOther:
		return true
	}
	return false
}

type PlaceOfInterest struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	Name      string              `gorm:"size:255;not null" json:"name"`
	PlaceType PlaceType           `gorm:"size:20;not null;default:other" json:"place_type"`
	Address   string              `gorm:"size:255" json:"address"`
	Latitude  decimal.NullDecimal `gorm:"type:numeric(9,6)" json:"latitude"`
	Longitude decimal.NullDecimal `gorm:"type:numeric(9,6)" json:"longitude"`
}

type PropertyPlaceOfInterest struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	PropertyID uint            `gorm:"not null;uniqueIndex:idx_property_place" json:"property_id"`
	PlaceID    uint            `gorm:"not null;uniqueIndex:idx_property_place" json:"place_id"`
	Place      PlaceOfInterest `gorm:"foreignKey:PlaceID;constraint:OnDelete:CASCADE" json:"place"`
	Distance   decimal.Decimal `gorm:"type:numeric(5,1);not null" json:"distance"`
}

type PropertyInterest struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_interest_user_property" json:"user_id"`
	PropertyID uint      `gorm:"not null;uniqueIndex:idx_interest_user_property" json:"property_id"`
	CreatedAt  time.Time `json:"created_at"`
}
