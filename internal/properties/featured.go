package properties

import (
	"context"
	"time"

	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"gorm.io/gorm"
)

// UnfeatureExpired clears the featured flag on listings whose featured_until has passed.
func UnfeatureExpired(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&models.Property{}).
		Where("featured = ? AND featured_until IS NOT NULL AND featured_until < ?", true, now).
		UpdateColumns(map[string]any{"featured": false, "featured_until": nil})
	return res.RowsAffected, res.Error
}

// UnfeatureJob adapts UnfeatureExpired for the scheduler.
func UnfeatureJob(pc *cache.Cache) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := UnfeatureExpired(database.DB.WithContext(ctx), time.Now())
		if err != nil {
			return err
		}
		if n > 0 {
			pc.Invalidate(CacheNamespace)
			logger.Log.WithField("count", n).Info("unfeatured expired listings")
		}
		return nil
	}
}
