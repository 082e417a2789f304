package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"
	"estate-backend/internal/tasks"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Store is the media backend; storage.Local satisfies it.
type Store interface {
	Save(dir, filename string, r io.Reader) (string, error)
	Delete(rel string) error
	Exists(rel string) bool
}

const (
	MediaImage = "image"
	MediaVideo = "video"
)

// MediaPayload is the media.process job body.
type MediaPayload struct {
	Kind string `json:"kind"`
	ID   uint   `json:"id"`
}

func publishMedia(c *fiber.Ctx, pub tasks.Publisher, kind string, id uint) {
	job, err := tasks.NewJob(tasks.JobMediaProcess, MediaPayload{Kind: kind, ID: id})
	if err == nil {
		err = pub.Publish(c.UserContext(), job)
	}
	if err != nil {
		logger.FromCtx(c).WithError(err).WithField("media_id", id).Warn("could not queue media processing")
	}
}

// POST /api/properties/:id/images (multipart: image, is_primary)
func UploadImageHandler(pc *cache.Cache, store Store, pub tasks.Publisher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		fh, err := c.FormFile("image")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "image file is required")
		}
		primary, _ := strconv.ParseBool(c.FormValue("is_primary"))

		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not read upload")
		}
		defer f.Close()

		mt, err := mimetype.DetectReader(f)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not read upload")
		}
		if err := models.ValidateImageMIME(mt.String()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not read upload")
		}

		if primary {
			var n int64
			database.DB.Model(&models.PropertyImage{}).Where("property_id = ? AND is_primary = ?", p.ID, true).Count(&n)
			if n > 0 {
				return fiber.NewError(fiber.StatusBadRequest, models.ErrPrimaryExists.Error())
			}
		}

		rel, err := store.Save(fmt.Sprintf("properties/%d/images", p.ID), "upload"+mt.Extension(), f)
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("image save failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not store image")
		}

		img := models.PropertyImage{
			PropertyID:       p.ID,
			Path:             rel,
			MIMEType:         mt.String(),
			IsPrimary:        primary,
			ProcessingStatus: models.ProcessingPending,
		}
		if err := database.DB.Create(&img).Error; err != nil {
			_ = store.Delete(rel)
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusBadRequest, models.ErrPrimaryExists.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "could not save image")
		}
		publishMedia(c, pub, MediaImage, img.ID)
		pc.Invalidate(CacheNamespace)
		return c.Status(fiber.StatusCreated).JSON(ImageResponse{PropertyImage: img, URL: mediaURL(img.Path)})
	}
}

func loadImage(c *fiber.Ctx, propertyID uint) (*models.PropertyImage, error) {
	imageID, err := paramID(c, "imageId")
	if err != nil {
		return nil, err
	}
	var img models.PropertyImage
	if err := database.DB.Where("property_id = ?", propertyID).First(&img, imageID).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "image not found")
	}
	return &img, nil
}

// POST /api/properties/:id/images/:imageId/primary
func SetPrimaryImageHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		img, err := loadImage(c, p.ID)
		if err != nil {
			return err
		}
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.PropertyImage{}).
				Where("property_id = ? AND id <> ?", p.ID, img.ID).
				UpdateColumn("is_primary", false).Error; err != nil {
				return err
			}
			return tx.Model(img).UpdateColumn("is_primary", true).Error
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not set primary image")
		}
		img.IsPrimary = true
		pc.Invalidate(CacheNamespace)
		return c.JSON(ImageResponse{PropertyImage: *img, URL: mediaURL(img.Path)})
	}
}

// DELETE /api/properties/:id/images/:imageId
func DeleteImageHandler(pc *cache.Cache, store Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		img, err := loadImage(c, p.ID)
		if err != nil {
			return err
		}
		if err := database.DB.Delete(img).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete image")
		}
		if err := store.Delete(img.Path); err != nil {
			logger.FromCtx(c).WithError(err).Warn("could not remove image file")
		}
		pc.Invalidate(CacheNamespace)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/properties/:id/videos (multipart: video)
func UploadVideoHandler(store Store, pub tasks.Publisher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		fh, err := c.FormFile("video")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "video file is required")
		}
		if err := models.ValidateVideo(fh.Filename, fh.Size); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not read upload")
		}
		defer f.Close()

		rel, err := store.Save(fmt.Sprintf("properties/%d/videos", p.ID), fh.Filename, f)
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("video save failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not store video")
		}
		v := models.PropertyVideo{
			PropertyID:       p.ID,
			Path:             rel,
			Size:             fh.Size,
			ProcessingStatus: models.ProcessingPending,
		}
		if err := database.DB.Create(&v).Error; err != nil {
			_ = store.Delete(rel)
			return fiber.NewError(fiber.StatusInternalServerError, "could not save video")
		}
		publishMedia(c, pub, MediaVideo, v.ID)
		return c.Status(fiber.StatusCreated).JSON(VideoResponse{PropertyVideo: v, URL: mediaURL(v.Path)})
	}
}

// DELETE /api/properties/:id/videos/:videoId
func DeleteVideoHandler(store Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := loadEditable(c)
		if err != nil {
			return err
		}
		videoID, err := paramID(c, "videoId")
		if err != nil {
			return err
		}
		var v models.PropertyVideo
		if err := database.DB.Where("property_id = ?", p.ID).First(&v, videoID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "video not found")
		}
		if err := database.DB.Delete(&v).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not delete video")
		}
		if err := store.Delete(v.Path); err != nil {
			logger.FromCtx(c).WithError(err).Warn("could not remove video file")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MediaProcessHandler marks uploaded media done once its file is confirmed on disk,
// failed when the file is gone.
func MediaProcessHandler(store Store) tasks.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p MediaPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode media payload: %w", err)
		}

		var (
			row  any
			path string
		)
		switch p.Kind {
		case MediaImage:
			var img models.PropertyImage
			if err := database.DB.WithContext(ctx).First(&img, p.ID).Error; err != nil {
				return mediaLookupErr(err, p)
			}
			row, path = &img, img.Path
		case MediaVideo:
			var v models.PropertyVideo
			if err := database.DB.WithContext(ctx).First(&v, p.ID).Error; err != nil {
				return mediaLookupErr(err, p)
			}
			row, path = &v, v.Path
		default:
			return fmt.Errorf("unknown media kind %q", p.Kind)
		}

		status := models.ProcessingDone
		if !store.Exists(path) {
			status = models.ProcessingFailed
		}
		if err := database.DB.WithContext(ctx).Model(row).UpdateColumn("processing_status", status).Error; err != nil {
			return fmt.Errorf("update processing status: %w", err)
		}
		logger.Log.WithField("kind", p.Kind).WithField("id", p.ID).WithField("status", status).Info("media processed")
		return nil
	}
}

// mediaLookupErr drops jobs for media deleted before the worker got to them.
func mediaLookupErr(err error, p MediaPayload) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Log.WithField("kind", p.Kind).WithField("id", p.ID).Info("media gone before processing")
		return nil
	}
	return err
}
