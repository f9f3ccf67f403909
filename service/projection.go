package service

import (
	"context"
	"fmt"

	"messaging-service/model"
)

// views builds typed projections for msgs, keeping their order and attaching
// reactions and visible attachments.
func (d *Deps) views(ctx context.Context, msgs []model.Message) ([]model.MessageView, error) {
	out := make([]model.MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}

	var reactions []model.Reaction
	if err := d.DB.WithContext(ctx).Where("message_id IN ?", ids).Order("created_at asc").Find(&reactions).Error; err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	var attachments []model.Attachment
	if err := d.DB.WithContext(ctx).Where("message_id IN ?", ids).Order("created_at asc").Find(&attachments).Error; err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}

	byMessage := make(map[string]int, len(msgs))
	for i := range msgs {
		byMessage[msgs[i].ID] = i
		out = append(out, model.NewMessageView(&msgs[i]))
	}
	for _, r := range reactions {
		i := byMessage[r.MessageID]
		out[i].Reactions = append(out[i].Reactions, model.ReactionView{UserID: r.UserID, Emoji: r.Emoji, CreatedAt: r.CreatedAt})
	}
	for i := range attachments {
		a := &attachments[i]
		if a.MessageID == nil || !a.Visible() {
			continue
		}
		j := byMessage[*a.MessageID]
		out[j].Attachments = append(out[j].Attachments, model.NewAttachmentView(a))
	}
	return out, nil
}

// window loads the newest non-deleted messages of a conversation, newest first.
func (d *Deps) window(ctx context.Context, conversationID string) ([]model.MessageView, error) {
	var msgs []model.Message
	err := d.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").Order("id desc").
		Limit(d.Policy.Cache.Window).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return d.views(ctx, msgs)
}

func (d *Deps) participants(ctx context.Context, conversationID string) ([]string, error) {
	var users []string
	err := d.DB.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at asc").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return users, nil
}
