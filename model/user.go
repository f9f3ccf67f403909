package model

import "time"

// User mirrors the identity service's user record. Roles are not read from
// here; they are casbin grouping policies scoped to the community.
type User struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	CommunityID string    `gorm:"type:uuid;not null;index" json:"community_id"`
	Username    string    `gorm:"uniqueIndex;not null" json:"username"`
	CreatedAt   time.Time `json:"created_at"`
}
