// Package testutil wires an in-memory sqlite database into database.DB for tests.
package testutil

import (
	"testing"
	"time"

	"estate-backend/internal/apperr"
	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const Secret = "test-secret-test-secret-test-secret-0123"

// SetupDB opens a fresh sqlite memory database, migrates it and assigns database.DB.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to ":memory:" is its own database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	database.DB = db
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Config() *config.Config {
	return &config.Config{
		JWTSecret:         Secret,
		PublicURL:         "http://estate.test",
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   2 * time.Hour,
		PaymentAttempts:   3,
		PaymentRetryDelay: 0,
	}
}

// CreateUser inserts an active user with password "password123".
func CreateUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateProperty(t *testing.T, db *gorm.DB, ownerID uint, listing models.ListingType) *models.Property {
	t.Helper()
	p := &models.Property{
		Title:        "Garden cottage",
		Description:  "Two bed cottage",
		PropertyType: models.PropertyHouse,
		Status:       models.StatusAvailable,
		ListingType:  listing,
		Address:      "12 Samora Machel Ave",
		City:         "Harare",
		State:        "Harare",
		ZipCode:      "00263",
		Price:        decimal.NewFromInt(120000),
		ViewingFee:   models.DefaultViewingFee,
		Bedrooms:     2,
		Bathrooms:    decimal.NewFromInt(1),
		Area:         decimal.NewFromInt(90),
		OwnerID:      ownerID,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func CreateIntegration(t *testing.T, db *gorm.DB, name string) *models.PaynowIntegration {
	t.Helper()
	in := &models.PaynowIntegration{
		Name:           name,
		IntegrationID:  "1201",
		IntegrationKey: "3e9fed89-60e1-4ce5-ab6e-6b1eb2d4f977",
		ReturnURL:      "https://estate.example/return",
		ResultURL:      "https://estate.example/api/payments/webhook/paynow",
		IsActive:       true,
		Currency:       "USD",
	}
	require.NoError(t, db.Create(in).Error)
	return in
}

// NewApp returns a bare fiber app with the production error handler.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: apperr.Handler})
}
