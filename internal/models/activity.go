package models

import (
	"time"

	"gorm.io/datatypes"
)

type ActivityAction string

const (
	ActivityLogin           ActivityAction = "login"
	ActivityLogout          ActivityAction = "logout"
	ActivityAccountCreated  ActivityAction = "account_created"
	ActivityProfileUpdate   ActivityAction = "profile_update"
	ActivityPasswordChange  ActivityAction = "password_change"
	ActivityPropertyView    ActivityAction = "property_view"
	ActivityPropertySave    ActivityAction = "property_save"
	ActivityPropertyContact ActivityAction = "property_contact"
	ActivityAgentContact    ActivityAction = "agent_contact"
)

type UserActivityLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"index;not null" json:"user_id"`
	Action    ActivityAction    `gorm:"size:50;not null" json:"action"`
	Details   datatypes.JSONMap `json:"details"`
	IPAddress string            `gorm:"size:45" json:"ip_address"`
	UserAgent string            `gorm:"type:text" json:"user_agent"`
	Timestamp time.Time         `gorm:"autoCreateTime;index" json:"timestamp"`
}

// UserFavorite holds exactly one of a property, an agent or a saved search.
type UserFavorite struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	UserID           uint              `gorm:"not null;uniqueIndex:idx_fav_user_property;uniqueIndex:idx_fav_user_agent" json:"user_id"`
	PropertyID       *uint             `gorm:"uniqueIndex:idx_fav_user_property" json:"property_id"`
	AgentID          *uint             `gorm:"uniqueIndex:idx_fav_user_agent" json:"agent_id"`
	SearchParameters datatypes.JSONMap `json:"search_parameters"`
	CreatedAt        time.Time         `json:"created_at"`
}
