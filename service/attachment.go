package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/audit"
	"messaging-service/model"
	"messaging-service/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxFileNameLength = 120

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type UploadRequest struct {
	ConversationID string `json:"conversationId"`
	FileName       string `json:"fileName"`
	Size           int64  `json:"fileSize"`
	ContentType    string `json:"contentType"`
}

type UploadGrant struct {
	AttachmentID string `json:"attachmentId"`
	UploadURL    string `json:"uploadUrl"`
	FilePath     string `json:"filePath"`
	Token        string `json:"token"`
}

type Attachments struct {
	d *Deps
}

// SanitizeFileName keeps the base name and replaces anything outside
// [A-Za-z0-9._-].
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "._")
	if len(name) > maxFileNameLength {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFileNameLength-len(ext)] + ext
	}
	return name
}

// RequestUploadToken validates the declared file, reserves a unique storage
// path under the conversation and returns a short-lived upload credential.
// Nothing is transferred until the client uses the returned URL.
func (s *Attachments) RequestUploadToken(ctx context.Context, caller access.Caller, in UploadRequest) (UploadGrant, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, in.ConversationID, caller.ID); err != nil {
		return UploadGrant{}, err
	}

	policy := s.d.Policy.Upload
	name := SanitizeFileName(in.FileName)
	if name == "" {
		return UploadGrant{}, apperr.Validation("fileName is required")
	}
	if !policy.Allowed(in.ContentType) {
		return UploadGrant{}, apperr.Validation("content type %q is not allowed", in.ContentType)
	}
	if in.Size <= 0 {
		return UploadGrant{}, apperr.Validation("fileSize must be positive")
	}
	if in.Size > policy.MaxSize {
		return UploadGrant{}, apperr.PayloadTooLarge(in.Size, policy.MaxSize)
	}

	filePath := fmt.Sprintf("%s/%s/%s", in.ConversationID, uuid.NewString(), name)

	uploadURL, err := s.d.Blob.PresignPut(ctx, policy.Bucket, filePath, policy.TokenTTL)
	if err != nil {
		return UploadGrant{}, apperr.Upstream("blob store", err)
	}
	claims := utils.UploadClaims{
		Path:           filePath,
		Bucket:         policy.Bucket,
		ConversationID: in.ConversationID,
		ContentType:    in.ContentType,
		Size:           in.Size,
	}
	claims.Subject = caller.ID
	token, err := utils.SignUploadToken(claims, s.d.UploadKey, policy.TokenTTL, s.d.Now())
	if err != nil {
		return UploadGrant{}, err
	}

	attachment := &model.Attachment{
		ConversationID: in.ConversationID,
		UploaderID:     caller.ID,
		Path:           filePath,
		FileName:       name,
		ContentType:    in.ContentType,
		Size:           in.Size,
		Status:         model.AttachmentPending,
		CreatedAt:      s.d.Now(),
	}
	if err := s.d.DB.WithContext(ctx).Create(attachment).Error; err != nil {
		return UploadGrant{}, fmt.Errorf("reserve attachment: %w", err)
	}

	s.d.Audit.Record(ctx, caller.ID, "attachment.reserve", "attachments", attachment.ID, map[string]any{
		"conversation_id": in.ConversationID,
		"path":            filePath,
		"content_type":    in.ContentType,
		"size":            in.Size,
	})

	return UploadGrant{
		AttachmentID: attachment.ID,
		UploadURL:    uploadURL,
		FilePath:     filePath,
		Token:        token,
	}, nil
}

// Delete removes the primary file and every derivative, then the row. File
// removal is best-effort: failures are logged and do not stop the row delete.
func (s *Attachments) Delete(ctx context.Context, id string) error {
	attachment := new(model.Attachment)
	err := s.d.DB.WithContext(ctx).First(attachment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("attachment")
	}
	if err != nil {
		return fmt.Errorf("load attachment: %w", err)
	}
	return s.remove(ctx, attachment)
}

func (s *Attachments) remove(ctx context.Context, attachment *model.Attachment) error {
	bucket := s.d.Policy.Upload.Bucket
	for _, p := range append([]string{attachment.Path}, attachment.DerivativePaths()...) {
		if err := s.d.Blob.Remove(ctx, bucket, p); err != nil {
			s.d.Log.Warn().Err(err).Str("attachment_id", attachment.ID).Str("path", p).Msg("failed to remove attachment file")
		}
	}
	if err := s.d.DB.WithContext(ctx).Delete(&model.Attachment{}, "id = ?", attachment.ID).Error; err != nil {
		return fmt.Errorf("delete attachment %s: %w", attachment.ID, err)
	}
	s.d.Audit.Record(ctx, audit.SystemActor, "attachment.delete", "attachments", attachment.ID, map[string]any{
		"path": attachment.Path,
	})
	return nil
}

func (s *Attachments) DeleteForMessage(ctx context.Context, messageID string) error {
	return s.deleteWhere(ctx, "message_id = ?", messageID)
}

// DeleteForConversation also covers reserved uploads never sent in a message.
func (s *Attachments) DeleteForConversation(ctx context.Context, conversationID string) error {
	return s.deleteWhere(ctx, "conversation_id = ?", conversationID)
}

func (s *Attachments) deleteWhere(ctx context.Context, query string, arg string) error {
	var attachments []model.Attachment
	if err := s.d.DB.WithContext(ctx).Where(query, arg).Find(&attachments).Error; err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	var first error
	for i := range attachments {
		if err := s.remove(ctx, &attachments[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}
