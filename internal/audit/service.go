package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estate-backend/internal/database"
	"estate-backend/internal/models"

	"gorm.io/gorm"
)

const (
	EntityProperty        = "property"
	EntityAgency          = "agency"
	EntityPlaceOfInterest = "place_of_interest"
	EntityRentalContract  = "rental_contract"
	EntitySaleContract    = "sale_contract"
)

var (
	ErrAlreadyUndone = errors.New("this change has already been undone")
	ErrNotUndoable   = errors.New("this action cannot be undone")
	ErrUnknownEntity = errors.New("unknown entity type")
	ErrLogNotFound   = errors.New("audit log not found")
)

// entities maps an entity type to a constructor for its model.
var entities = map[string]func() any{
	EntityProperty:        func() any { return &models.Property{} },
	EntityAgency:          func() any { return &models.Agency{} },
	EntityPlaceOfInterest: func() any { return &models.PlaceOfInterest{} },
	EntityRentalContract:  func() any { return &models.RentalContract{} },
	EntitySaleContract:    func() any { return &models.SaleContract{} },
}

type LogOptions struct {
	AgencyID    *uint
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

func toJSON(v any) string {
	// jsonb columns need "null", not an empty string
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func WriteLog(opts LogOptions) error {
	return WriteLogTx(database.DB, opts)
}

// WriteLogTx writes the entry inside an existing transaction.
func WriteLogTx(tx *gorm.DB, opts LogOptions) error {
	entry := models.AuditLog{
		AgencyID:    opts.AgencyID,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  toJSON(opts.Before),
		AfterData:   toJSON(opts.After),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("could not write audit log: %w", err)
	}
	return nil
}

// UndoLog reverts the change recorded by logID and records the undo itself.
func UndoLog(logID uint, userID uint, userName string) error {
	return database.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.AuditLog
		if err := tx.First(&entry, "id = ?", logID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLogNotFound
			}
			return err
		}
		if entry.IsUndone {
			return ErrAlreadyUndone
		}
		newModel, ok := entities[entry.EntityType]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, entry.EntityType)
		}

		switch entry.Action {
		case models.AuditActionCreate:
			if err := tx.Delete(newModel(), "id = ?", entry.EntityID).Error; err != nil {
				return fmt.Errorf("could not delete %s: %w", entry.EntityType, err)
			}
		case models.AuditActionUpdate:
			if err := saveSnapshot(tx, newModel(), entry.BeforeData); err != nil {
				return fmt.Errorf("could not restore %s: %w", entry.EntityType, err)
			}
		case models.AuditActionDelete:
			if err := recreate(tx, newModel(), entry.BeforeData); err != nil {
				return fmt.Errorf("could not recreate %s: %w", entry.EntityType, err)
			}
		default:
			return ErrNotUndoable
		}

		now := time.Now()
		entry.IsUndone = true
		entry.UndoneBy = &userID
		entry.UndoneAt = &now
		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("could not mark audit log undone: %w", err)
		}

		return tx.Create(&models.AuditLog{
			AgencyID:    entry.AgencyID,
			UserID:      userID,
			UserName:    userName,
			EntityType:  entry.EntityType,
			EntityID:    entry.EntityID,
			Action:      models.AuditActionUndo,
			Description: "Undone: " + entry.Description,
			BeforeData:  entry.AfterData,
			AfterData:   entry.BeforeData,
			Undone:      true,
		}).Error
	})
}

func saveSnapshot(tx *gorm.DB, dst any, data string) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return err
	}
	return tx.Omit("created_at").Save(dst).Error
}

// recreate inserts the deleted row again under its original id.
func recreate(tx *gorm.DB, dst any, data string) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return err
	}
	return tx.Create(dst).Error
}
