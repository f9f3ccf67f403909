package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/event"
	"messaging-service/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SendInput struct {
	Body          string   `json:"content"`
	AttachmentIDs []string `json:"attachmentIds"`
	ReplyToID     *string  `json:"replyTo"`
}

type Messages struct {
	d           *Deps
	attachments *Attachments
}

func (s *Messages) validateBody(body string, allowEmpty bool) error {
	if strings.TrimSpace(body) == "" && !allowEmpty {
		return apperr.Validation("message content is required")
	}
	if max := s.d.Policy.MaxMessageLength; max > 0 && len(body) > max {
		return apperr.Validation("message content is longer than %d bytes", max)
	}
	return nil
}

func (s *Messages) Send(ctx context.Context, caller access.Caller, conversationID string, in SendInput) (model.MessageView, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, conversationID, caller.ID); err != nil {
		return model.MessageView{}, err
	}
	attachmentIDs := unique(in.AttachmentIDs)
	if err := s.validateBody(in.Body, len(attachmentIDs) > 0); err != nil {
		return model.MessageView{}, err
	}

	if in.ReplyToID != nil {
		// Soft-deleted messages stay valid reply targets.
		target := new(model.Message)
		err := s.d.DB.WithContext(ctx).Unscoped().First(target, "id = ?", *in.ReplyToID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && target.ConversationID != conversationID) {
			return model.MessageView{}, apperr.Validation("reply target is not a message of this conversation")
		}
		if err != nil {
			return model.MessageView{}, fmt.Errorf("load reply target: %w", err)
		}
	}

	var attachments []model.Attachment
	if len(attachmentIDs) > 0 {
		if err := s.d.DB.WithContext(ctx).Where("id IN ?", attachmentIDs).Find(&attachments).Error; err != nil {
			return model.MessageView{}, fmt.Errorf("load attachments: %w", err)
		}
		if len(attachments) != len(attachmentIDs) {
			return model.MessageView{}, apperr.Validation("unknown attachment")
		}
		for _, a := range attachments {
			if a.ConversationID != conversationID || a.UploaderID != caller.ID || a.MessageID != nil || !a.Visible() {
				return model.MessageView{}, apperr.Validation("attachment %s cannot be used in this message", a.ID)
			}
		}
	}

	msg := &model.Message{
		ConversationID: conversationID,
		SenderID:       caller.ID,
		Body:           in.Body,
		Metadata:       datatypes.JSONMap{},
		ReplyToID:      in.ReplyToID,
		CreatedAt:      s.d.Now(),
	}
	err := s.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if len(attachmentIDs) == 0 {
			return nil
		}
		res := tx.Model(&model.Attachment{}).
			Where("id IN ? AND message_id IS NULL", attachmentIDs).
			Update("message_id", msg.ID)
		if res.Error != nil {
			return fmt.Errorf("link attachments: %w", res.Error)
		}
		if int(res.RowsAffected) != len(attachmentIDs) {
			return apperr.Validation("attachment already belongs to another message")
		}
		// Reload so the view reflects any verdict recorded since validation.
		if err := tx.Where("id IN ?", attachmentIDs).Order("created_at asc").Find(&attachments).Error; err != nil {
			return fmt.Errorf("reload attachments: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.MessageView{}, err
	}

	view := model.NewMessageView(msg)
	for i := range attachments {
		if attachments[i].Visible() {
			view.Attachments = append(view.Attachments, model.NewAttachmentView(&attachments[i]))
		}
	}

	s.d.Cache.Prepend(conversationID, view)
	s.d.Audit.Record(ctx, caller.ID, "message.send", "messages", msg.ID, map[string]any{
		"conversation_id": conversationID,
		"attachments":     attachmentIDs,
		"reply_to":        in.ReplyToID,
	})
	if err := s.d.Broadcast.MessageNew(conversationID, view); err != nil {
		s.d.Log.Warn().Err(err).Str("conversation_id", conversationID).Msg("message broadcast failed")
	}
	return view, nil
}

// List returns the recent message window, newest first, from the cache when
// it is fresh and from the store otherwise.
func (s *Messages) List(ctx context.Context, caller access.Caller, conversationID string) ([]model.MessageView, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, conversationID, caller.ID); err != nil {
		return nil, err
	}
	if entry, ok := s.d.Cache.Get(conversationID); ok {
		return entry.Messages, nil
	}

	views, err := s.d.window(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	s.d.Cache.Put(conversationID, views)
	return views, nil
}

// ownMessage loads a live message and checks that caller sent it.
func (s *Messages) ownMessage(ctx context.Context, caller access.Caller, messageID string) (*model.Message, error) {
	msg := new(model.Message)
	err := s.d.DB.WithContext(ctx).First(msg, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message")
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != caller.ID {
		return nil, apperr.Forbidden("only the sender can change this message")
	}
	return msg, nil
}

func (s *Messages) Edit(ctx context.Context, caller access.Caller, messageID, body string) (model.MessageView, error) {
	msg, err := s.ownMessage(ctx, caller, messageID)
	if err != nil {
		return model.MessageView{}, err
	}
	if err := s.validateBody(body, false); err != nil {
		return model.MessageView{}, err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	metadata[model.MetadataEdited] = true
	metadata["editedAt"] = s.d.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")

	err = s.d.DB.WithContext(ctx).Model(msg).Updates(map[string]any{
		"body":     body,
		"metadata": metadata,
	}).Error
	if err != nil {
		return model.MessageView{}, fmt.Errorf("edit message: %w", err)
	}
	msg.Body = body
	msg.Metadata = metadata

	s.d.Cache.Invalidate(msg.ConversationID)
	s.d.Audit.Record(ctx, caller.ID, "message.edit", "messages", msg.ID, map[string]any{
		"conversation_id": msg.ConversationID,
	})
	s.d.refresh(msg.ConversationID)

	views, err := s.d.views(ctx, []model.Message{*msg})
	if err != nil {
		return model.MessageView{}, err
	}
	return views[0], nil
}

// SoftDelete stamps deleted_at and keeps the row so replies and ordering
// stay intact. Attachment files are removed in the background.
func (s *Messages) SoftDelete(ctx context.Context, caller access.Caller, messageID string) error {
	msg, err := s.ownMessage(ctx, caller, messageID)
	if err != nil {
		return err
	}
	if err := s.d.DB.WithContext(ctx).Delete(msg).Error; err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	var linked int64
	if err := s.d.DB.WithContext(ctx).Model(&model.Attachment{}).Where("message_id = ?", msg.ID).Count(&linked).Error; err != nil {
		s.d.Log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to count attachments")
	}
	if linked > 0 {
		s.scheduleAttachmentDeletion(ctx, msg.ID)
	}

	s.d.Cache.Invalidate(msg.ConversationID)
	s.d.Audit.Record(ctx, caller.ID, "message.delete", "messages", msg.ID, map[string]any{
		"conversation_id": msg.ConversationID,
		"attachments":     linked,
	})
	s.d.refresh(msg.ConversationID)
	return nil
}

func (s *Messages) scheduleAttachmentDeletion(ctx context.Context, messageID string) {
	if s.d.Jobs != nil {
		err := s.d.Jobs.Enqueue(ctx, event.ActionAttachmentDelete, event.AttachmentDelete{MessageID: messageID})
		if err == nil {
			return
		}
		s.d.Log.Warn().Err(err).Str("message_id", messageID).Msg("failed to enqueue attachment deletion, deleting inline")
	}
	if err := s.attachments.DeleteForMessage(ctx, messageID); err != nil {
		s.d.Log.Warn().Err(err).Str("message_id", messageID).Msg("attachment deletion incomplete")
	}
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
