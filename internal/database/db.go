package database

import (
	"fmt"
	"time"

	"estate-backend/internal/config"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the Postgres pool and stores it in DB.
func Init(cfg *config.Config) error {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("could not get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpen)
	sqlDB.SetMaxIdleConns(cfg.DBMaxOpen / 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	DB = db
	return nil
}

// WaitForDB retries Init until the database answers or attempts run out.
func WaitForDB(cfg *config.Config, attempts int, delay time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = Init(cfg); err == nil {
			return nil
		}
		logger.Log.WithError(err).Warnf("database unavailable, waiting (%d/%d)", i, attempts)
		time.Sleep(delay)
	}
	return err
}

// AllModels lists every table in dependency order.
func AllModels() []any {
	return []any{
		&models.Agency{},
		&models.License{},
		&models.Specialization{},
		&models.User{},
		&models.UserActivityLog{},
		&models.Property{},
		&models.PropertyImage{},
		&models.PropertyVideo{},
		&models.PlaceOfInterest{},
		&models.PropertyPlaceOfInterest{},
		&models.PropertyInterest{},
		&models.UserFavorite{},
		&models.ServiceSubscription{},
		&models.RentalContract{},
		&models.SaleContract{},
		&models.Transaction{},
		&models.PaynowIntegration{},
		&models.Payment{},
		&models.Receipt{},
		&models.AuditLog{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	logger.Log.Info("database migration completed")
	return nil
}
