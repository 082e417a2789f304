package audit

import (
	"errors"
	"strconv"

	"estate-backend/internal/auth"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	AgencyID    *uint              `json:"agency_id"`
	UserID      uint               `json:"user_id"`
	UserName    string             `json:"user_name"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
	IsUndone    bool               `json:"is_undone"`
	UndoneBy    *uint              `json:"undone_by"`
	UndoneAt    *string            `json:"undone_at"`
}

func queryUint(c *fiber.Ctx, key string) (uint, bool) {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// GET /api/audit-logs?entity_type=property&entity_id=1&agency_id=1
// Agency staff only see entries for their own agency.
func ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Model(&models.AuditLog{})

		if auth.IsAdmin(c) {
			if aid, ok := queryUint(c, "agency_id"); ok {
				dbq = dbq.Where("agency_id = ?", aid)
			}
		} else {
			agencyID := auth.CurrentAgencyID(c)
			if agencyID == nil {
				return fiber.NewError(fiber.StatusForbidden, "no agency associated with this account")
			}
			dbq = dbq.Where("agency_id = ?", *agencyID)
		}

		if uid, ok := queryUint(c, "user_id"); ok {
			dbq = dbq.Where("user_id = ?", uid)
		}
		if et := c.Query("entity_type"); et != "" {
			dbq = dbq.Where("entity_type = ?", et)
		}
		if eid, ok := queryUint(c, "entity_id"); ok {
			dbq = dbq.Where("entity_id = ?", eid)
		}

		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC").Order("id DESC").Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			var undoneAt *string
			if l.UndoneAt != nil {
				s := l.UndoneAt.Format("2006-01-02 15:04:05")
				undoneAt = &s
			}
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				AgencyID:    l.AgencyID,
				UserID:      l.UserID,
				UserName:    l.UserName,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
				IsUndone:    l.IsUndone,
				UndoneBy:    l.UndoneBy,
				UndoneAt:    undoneAt,
			})
		}
		return c.JSON(resp)
	}
}

// POST /api/audit-logs/:id/undo
func UndoAuditLogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		logID, err := c.ParamsInt("id")
		if err != nil || logID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid log id")
		}
		userID, _ := auth.CurrentUserID(c)

		var entry models.AuditLog
		if err := database.DB.First(&entry, "id = ?", logID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "audit log not found")
		}

		if !auth.IsAdmin(c) {
			agencyID := auth.CurrentAgencyID(c)
			if agencyID == nil || entry.AgencyID == nil || *entry.AgencyID != *agencyID {
				return fiber.NewError(fiber.StatusForbidden, "you can only undo changes made within your agency")
			}
		}

		var user models.User
		if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "user not found")
		}

		if err := UndoLog(uint(logID), userID, user.FullName()); err != nil {
			if errors.Is(err, ErrLogNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"message": "change undone"})
	}
}

// Actor resolves the caller for an audit entry: id, display name and agency.
func Actor(c *fiber.Ctx) (uint, string, *uint, error) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		return 0, "", nil, fiber.NewError(fiber.StatusForbidden, "user information missing")
	}
	var user models.User
	if err := database.DB.Select("id", "first_name", "last_name", "agency_id").First(&user, userID).Error; err != nil {
		return 0, "", nil, fiber.NewError(fiber.StatusInternalServerError, "user not found")
	}
	return user.ID, user.FullName(), user.AgencyID, nil
}

// Record writes an audit entry for the caller of c. Failures are logged only.
func Record(c *fiber.Ctx, entityType string, entityID uint, action models.AuditAction, description string, before, after any) {
	userID, name, agencyID, err := Actor(c)
	if err != nil {
		return
	}
	err = WriteLog(LogOptions{
		AgencyID:    agencyID,
		UserID:      userID,
		UserName:    name,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Description: description,
		Before:      before,
		After:       after,
	})
	if err != nil {
		logger.FromCtx(c).WithError(err).Warn("audit log write failed")
	}
}
