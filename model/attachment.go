package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AttachmentStatus string

const (
	AttachmentPending  AttachmentStatus = "pending"
	AttachmentUploaded AttachmentStatus = "uploaded"
	AttachmentClean    AttachmentStatus = "clean"
	AttachmentInfected AttachmentStatus = "infected"
	// AttachmentRejected marks an object that does not match its reservation
	// (larger than declared or of another type).
	AttachmentRejected AttachmentStatus = "rejected"
)

// Attachment rows are reserved when an upload token is issued and mutated by
// the processing pipeline once the blob lands.
type Attachment struct {
	ID             string           `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string           `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UploaderID     string           `gorm:"type:uuid;not null" json:"uploader_id"`
	MessageID      *string          `gorm:"type:uuid;index" json:"message_id"`
	Path           string           `gorm:"not null;uniqueIndex" json:"path"`
	FileName       string           `gorm:"not null" json:"file_name"`
	ContentType    string           `gorm:"not null" json:"content_type"`
	Size           int64            `gorm:"not null" json:"size"`
	Status         AttachmentStatus `gorm:"not null;default:pending" json:"status"`

	ThumbnailPath  *string `json:"thumbnail_path"`
	TranscodedPath *string `json:"transcoded_path"`
	Checksum       string  `json:"checksum"`
	DetectedType   string  `json:"detected_type"`

	Scanned         bool       `gorm:"not null;default:false" json:"scanned"`
	ScannedAt       *time.Time `json:"scanned_at"`
	Infected        bool       `gorm:"not null;default:false" json:"infected"`
	Flagged         bool       `gorm:"not null;default:false" json:"flagged"`
	ModerationScore *float64   `json:"moderation_score"`
	ModeratedAt     *time.Time `json:"moderated_at"`
	ProcessedAt     *time.Time `json:"processed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Attachment) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// MediaClass is the top-level MIME type ("image", "video", ...). A sniffed
// type wins over the declared one unless sniffing found nothing specific.
func (a *Attachment) MediaClass() string {
	ct := a.ContentType
	if a.DetectedType != "" && a.DetectedType != "application/octet-stream" {
		ct = a.DetectedType
	}
	return strings.SplitN(ct, "/", 2)[0]
}

// DerivativePaths lists every blob written for this attachment besides the
// primary file.
func (a *Attachment) DerivativePaths() []string {
	var paths []string
	if a.ThumbnailPath != nil {
		paths = append(paths, *a.ThumbnailPath)
	}
	if a.TranscodedPath != nil {
		paths = append(paths, *a.TranscodedPath)
	}
	return paths
}
