package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog rows are append-only.
type AuditLog struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Actor       string         `gorm:"not null;index" json:"actor"`
	Action      string         `gorm:"not null;index" json:"action"`
	TargetTable string         `gorm:"not null" json:"target_table"`
	TargetID    string         `gorm:"not null;index" json:"target_id"`
	Payload     datatypes.JSON `json:"payload"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}
