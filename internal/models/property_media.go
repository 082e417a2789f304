package models

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

type ProcessingStatus string

const (
	ProcessingPending ProcessingStatus = "pending"
	ProcessingDone    ProcessingStatus = "done"
	ProcessingFailed  ProcessingStatus = "failed"
)

const MaxVideoSize int64 = 500 * 1024 * 1024

var (
	ErrImageType       = errors.New("only JPEG, PNG, and GIF images are allowed")
	ErrPrimaryExists   = errors.New("a primary image already exists for this property")
	ErrVideoTooLarge   = errors.New("maximum video file size is 500MB")
	ErrVideoType       = errors.New("only MP4 and MOV files are allowed")
	AllowedImageMIMEs  = []string{"image/jpeg", "image/png", "image/gif"}
	allowedVideoSuffix = []string{".mp4", ".mov"}
)

// PropertyImage rows: at most one per property has IsPrimary set, enforced by a partial unique index.
type PropertyImage struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	PropertyID       uint             `gorm:"index;not null;uniqueIndex:idx_property_images_one_primary,where:is_primary" json:"property_id"`
	Path             string           `gorm:"size:500;not null" json:"path"`
	MIMEType         string           `gorm:"size:50" json:"mime_type"`
	IsPrimary        bool             `gorm:"not null;default:false" json:"is_primary"`
	ProcessingStatus ProcessingStatus `gorm:"size:20;not null;default:pending" json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

type PropertyVideo struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	PropertyID       uint             `gorm:"index;not null" json:"property_id"`
	Path             string           `gorm:"size:500;not null" json:"path"`
	Size             int64            `json:"size"`
	Duration         *int             `json:"duration"`
	ProcessingStatus ProcessingStatus `gorm:"size:20;not null;default:pending" json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ValidateImageMIME accepts only the sniffed image types we serve.
func ValidateImageMIME(mime string) error {
	for _, m := range AllowedImageMIMEs {
		if mime == m {
			return nil
		}
	}
	return ErrImageType
}

// ValidateVideo enforces the upload size and container restrictions.
func ValidateVideo(filename string, size int64) error {
	if size > MaxVideoSize {
		return ErrVideoTooLarge
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range allowedVideoSuffix {
		if ext == s {
			return nil
		}
	}
	return ErrVideoType
}
