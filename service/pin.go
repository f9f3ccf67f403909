package service

import (
	"context"
	"errors"
	"fmt"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/model"

	"gorm.io/gorm"
)

type Pins struct {
	d *Deps
}

func (s *Pins) Pin(ctx context.Context, caller access.Caller, conversationID, messageID string) (model.PinView, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, conversationID, caller.ID); err != nil {
		return model.PinView{}, err
	}

	msg := new(model.Message)
	err := s.d.DB.WithContext(ctx).First(msg, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PinView{}, apperr.NotFound("message")
	}
	if err != nil {
		return model.PinView{}, fmt.Errorf("load message: %w", err)
	}
	if msg.ConversationID != conversationID {
		return model.PinView{}, apperr.Validation("message does not belong to this conversation")
	}

	pin := new(model.PinnedMessage)
	err = s.d.DB.WithContext(ctx).First(pin, "message_id = ?", messageID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pin = &model.PinnedMessage{
			ConversationID: conversationID,
			MessageID:      messageID,
			PinnedBy:       caller.ID,
			PinnedAt:       s.d.Now(),
		}
		if err := s.d.DB.WithContext(ctx).Create(pin).Error; err != nil {
			return model.PinView{}, fmt.Errorf("pin message: %w", err)
		}
		s.d.Audit.Record(ctx, caller.ID, "message.pin", "pinned_messages", pin.ID, map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
		})
		s.d.refresh(conversationID)
	case err != nil:
		return model.PinView{}, fmt.Errorf("load pin: %w", err)
	}

	views, err := s.d.views(ctx, []model.Message{*msg})
	if err != nil {
		return model.PinView{}, err
	}
	return pinView(pin, views[0]), nil
}

func (s *Pins) Unpin(ctx context.Context, caller access.Caller, conversationID, messageID string) error {
	if _, err := s.d.Access.RequireParticipant(ctx, conversationID, caller.ID); err != nil {
		return err
	}

	res := s.d.DB.WithContext(ctx).
		Where("conversation_id = ? AND message_id = ?", conversationID, messageID).
		Delete(&model.PinnedMessage{})
	if res.Error != nil {
		return fmt.Errorf("unpin message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("pin")
	}

	s.d.Audit.Record(ctx, caller.ID, "message.unpin", "pinned_messages", messageID, map[string]any{
		"conversation_id": conversationID,
	})
	s.d.refresh(conversationID)
	return nil
}

// List returns pins whose message is still visible, most recent first.
func (s *Pins) List(ctx context.Context, caller access.Caller, conversationID string) ([]model.PinView, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, conversationID, caller.ID); err != nil {
		return nil, err
	}

	var pins []model.PinnedMessage
	if err := s.d.DB.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("pinned_at desc").Find(&pins).Error; err != nil {
		return nil, fmt.Errorf("load pins: %w", err)
	}
	if len(pins) == 0 {
		return []model.PinView{}, nil
	}

	ids := make([]string, len(pins))
	for i := range pins {
		ids[i] = pins[i].MessageID
	}
	var msgs []model.Message
	if err := s.d.DB.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load pinned messages: %w", err)
	}
	views, err := s.d.views(ctx, msgs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.MessageView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}

	out := make([]model.PinView, 0, len(pins))
	for i := range pins {
		if v, ok := byID[pins[i].MessageID]; ok {
			out = append(out, pinView(&pins[i], v))
		}
	}
	return out, nil
}

func pinView(p *model.PinnedMessage, message model.MessageView) model.PinView {
	return model.PinView{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		PinnedBy:       p.PinnedBy,
		PinnedAt:       p.PinnedAt,
		Message:        message,
	}
}
