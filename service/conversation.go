package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/audit"
	"messaging-service/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTitleLength = 100

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type DeleteOutcome string

const (
	DeletePurged DeleteOutcome = "purged"
	DeleteLeft   DeleteOutcome = "left"
)

type UpdateInput struct {
	Title *string `json:"title"`
	Color *string `json:"color"`
}

type ThemeSettings struct {
	BackgroundColor *string `json:"background_color"`
	BubbleColor     *string `json:"bubble_color"`
	TextColor       *string `json:"text_color"`
	Emoji           *string `json:"emoji"`
}

type Conversations struct {
	d           *Deps
	attachments *Attachments
}

// CreateDirect returns the direct conversation between caller and target,
// creating it with both participants if none exists yet.
func (s *Conversations) CreateDirect(ctx context.Context, caller access.Caller, targetUserID string) (string, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return "", apperr.Validation("targetUserId is required")
	}
	if targetUserID == caller.ID {
		return "", apperr.Validation("cannot start a conversation with yourself")
	}

	target := new(model.User)
	err := s.d.DB.WithContext(ctx).First(target, "id = ? AND community_id = ?", targetUserID, caller.CommunityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.Validation("target user is not a member of this community")
	}
	if err != nil {
		return "", fmt.Errorf("load target user: %w", err)
	}

	admin, err := s.d.Access.IsAdmin(targetUserID, caller.CommunityID)
	if err != nil {
		return "", err
	}
	if admin {
		return "", apperr.Forbidden("direct messages to administrators are not allowed")
	}

	key := model.DirectKeyFor(caller.ID, targetUserID)
	if id, found, err := s.existingDirect(ctx, key, caller.ID, targetUserID); err != nil || found {
		return id, err
	}

	conv := &model.Conversation{
		CommunityID: caller.CommunityID,
		IsGroup:     false,
		DirectKey:   &key,
		CreatedBy:   caller.ID,
		CreatedAt:   s.d.Now(),
	}
	err = s.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		// A failure here rolls back the conversation row as well.
		return tx.Create(&[]model.Participant{
			{ConversationID: conv.ID, UserID: caller.ID, JoinedAt: s.d.Now()},
			{ConversationID: conv.ID, UserID: targetUserID, JoinedAt: s.d.Now()},
		}).Error
	})
	if err != nil {
		// Lost a race against a concurrent create for the same pair.
		if id, found, lookupErr := s.existingDirect(ctx, key, caller.ID, targetUserID); lookupErr == nil && found {
			return id, nil
		}
		return "", fmt.Errorf("create direct conversation: %w", err)
	}

	s.d.Audit.Record(ctx, caller.ID, "conversation.create", "conversations", conv.ID, map[string]any{
		"target_user_id": targetUserID,
		"is_group":       false,
	})
	return conv.ID, nil
}

// existingDirect finds the pair's conversation and re-adds a member who had
// left it, so the returned id is always usable by both.
func (s *Conversations) existingDirect(ctx context.Context, key string, members ...string) (string, bool, error) {
	conv := new(model.Conversation)
	err := s.d.DB.WithContext(ctx).First(conv, "direct_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find direct conversation: %w", err)
	}
	if err := s.join(ctx, conv.ID, members); err != nil {
		return "", false, err
	}
	return conv.ID, true, nil
}

func (s *Conversations) join(ctx context.Context, conversationID string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	rows := make([]model.Participant, len(members))
	for i, m := range members {
		rows[i] = model.Participant{ConversationID: conversationID, UserID: m, JoinedAt: s.d.Now()}
	}
	err := s.d.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	return nil
}

// ProvisionDefault creates a system-owned group conversation (for example
// the community-wide channel). Calling it again with the same title only adds
// missing members.
func (s *Conversations) ProvisionDefault(ctx context.Context, communityID, title string, members []string) (string, error) {
	title = strings.TrimSpace(title)
	if communityID == "" || title == "" {
		return "", apperr.Validation("community and title are required")
	}

	conv := new(model.Conversation)
	err := s.d.DB.WithContext(ctx).
		First(conv, "community_id = ? AND is_default = ? AND title = ?", communityID, true, title).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		conv = &model.Conversation{
			CommunityID: communityID,
			Title:       &title,
			IsGroup:     true,
			IsDefault:   true,
			CreatedBy:   audit.SystemActor,
			CreatedAt:   s.d.Now(),
		}
		if err := s.d.DB.WithContext(ctx).Create(conv).Error; err != nil {
			return "", fmt.Errorf("create default conversation: %w", err)
		}
		s.d.Audit.Record(ctx, audit.SystemActor, "conversation.provision", "conversations", conv.ID, map[string]any{
			"title": title,
		})
	case err != nil:
		return "", fmt.Errorf("find default conversation: %w", err)
	}

	if err := s.join(ctx, conv.ID, members); err != nil {
		return "", err
	}
	s.d.refresh(conv.ID)
	return conv.ID, nil
}

func (s *Conversations) List(ctx context.Context, caller access.Caller) ([]model.ConversationView, error) {
	var convs []model.Conversation
	err := s.d.DB.WithContext(ctx).
		Joins("JOIN participants ON participants.conversation_id = conversations.id AND participants.user_id = ?", caller.ID).
		Order("conversations.created_at desc").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	views := make([]model.ConversationView, 0, len(convs))
	for i := range convs {
		members, err := s.d.participants(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		views = append(views, model.NewConversationView(&convs[i], members))
	}
	return views, nil
}

func (s *Conversations) Get(ctx context.Context, caller access.Caller, id string) (model.ConversationView, error) {
	conv, err := s.d.Access.RequireParticipant(ctx, id, caller.ID)
	if err != nil {
		return model.ConversationView{}, err
	}
	members, err := s.d.participants(ctx, id)
	if err != nil {
		return model.ConversationView{}, err
	}
	return model.NewConversationView(conv, members), nil
}

func (s *Conversations) Update(ctx context.Context, caller access.Caller, id string, in UpdateInput) (model.ConversationView, error) {
	updates := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if len(title) > maxTitleLength {
			return model.ConversationView{}, apperr.Validation("title is longer than %d characters", maxTitleLength)
		}
		updates["title"] = title
	}
	if in.Color != nil {
		if !hexColor.MatchString(*in.Color) {
			return model.ConversationView{}, apperr.Validation("color must be a hex value like #3366ff")
		}
		updates["color"] = *in.Color
	}
	return s.applyAdminUpdate(ctx, caller, id, "conversation.update", updates)
}

func (s *Conversations) UpdateSettings(ctx context.Context, caller access.Caller, id string, in ThemeSettings) (model.ConversationView, error) {
	updates := map[string]any{}
	colors := map[string]*string{
		"background_color": in.BackgroundColor,
		"bubble_color":     in.BubbleColor,
		"text_color":       in.TextColor,
	}
	for column, value := range colors {
		if value == nil {
			continue
		}
		if !hexColor.MatchString(*value) {
			return model.ConversationView{}, apperr.Validation("%s must be a hex value like #3366ff", column)
		}
		updates[column] = *value
	}
	if in.Emoji != nil {
		if len(*in.Emoji) > 32 {
			return model.ConversationView{}, apperr.Validation("emoji is too long")
		}
		updates["emoji"] = *in.Emoji
	}
	return s.applyAdminUpdate(ctx, caller, id, "conversation.settings", updates)
}

func (s *Conversations) applyAdminUpdate(ctx context.Context, caller access.Caller, id, action string, updates map[string]any) (model.ConversationView, error) {
	if len(updates) == 0 {
		return model.ConversationView{}, apperr.Validation("no fields to update")
	}
	conv, err := s.d.Access.RequireConversationAdmin(ctx, id, caller)
	if err != nil {
		return model.ConversationView{}, err
	}
	if err := s.d.DB.WithContext(ctx).Model(conv).Updates(updates).Error; err != nil {
		return model.ConversationView{}, fmt.Errorf("update conversation: %w", err)
	}
	if err := s.d.DB.WithContext(ctx).First(conv, "id = ?", id).Error; err != nil {
		return model.ConversationView{}, fmt.Errorf("reload conversation: %w", err)
	}

	s.d.Audit.Record(ctx, caller.ID, action, "conversations", id, updates)
	s.d.refresh(id)

	members, err := s.d.participants(ctx, id)
	if err != nil {
		return model.ConversationView{}, err
	}
	return model.NewConversationView(conv, members), nil
}

// Delete purges the conversation when caller administers its community and
// otherwise removes only the caller's membership.
func (s *Conversations) Delete(ctx context.Context, caller access.Caller, id string) (DeleteOutcome, error) {
	conv := new(model.Conversation)
	err := s.d.DB.WithContext(ctx).First(conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("conversation")
	}
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}

	admin, err := s.d.Access.IsAdmin(caller.ID, conv.CommunityID)
	if err != nil {
		return "", err
	}
	if admin {
		if conv.IsDefault {
			return "", apperr.Forbidden("default conversations cannot be deleted, only left")
		}
		if err := s.purge(ctx, conv); err != nil {
			return "", err
		}
		s.d.Audit.Record(ctx, caller.ID, "conversation.delete", "conversations", id, map[string]any{"mode": DeletePurged})
		s.d.refresh(id)
		return DeletePurged, nil
	}

	if _, err := s.d.Access.RequireParticipant(ctx, id, caller.ID); err != nil {
		return "", err
	}
	err = s.d.DB.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", id, caller.ID).
		Delete(&model.Participant{}).Error
	if err != nil {
		return "", fmt.Errorf("leave conversation: %w", err)
	}
	s.d.Audit.Record(ctx, caller.ID, "conversation.leave", "participants", id, nil)
	s.d.refresh(id)
	return DeleteLeft, nil
}

// purge removes children before parents. It is not one transaction: the
// first failure is returned and completed steps stay done, which is safe
// because running it again deletes by the same ids.
func (s *Conversations) purge(ctx context.Context, conv *model.Conversation) error {
	db := s.d.DB.WithContext(ctx)
	messageIDs := db.Unscoped().Model(&model.Message{}).Select("id").Where("conversation_id = ?", conv.ID)

	steps := []struct {
		name string
		run  func() error
	}{
		{"reactions", func() error {
			return db.Where("message_id IN (?)", messageIDs).Delete(&model.Reaction{}).Error
		}},
		{"read receipts", func() error {
			return db.Where("message_id IN (?)", messageIDs).Delete(&model.MessageRead{}).Error
		}},
		{"attachments", func() error {
			return s.attachments.DeleteForConversation(ctx, conv.ID)
		}},
		{"pins", func() error {
			return db.Where("conversation_id = ?", conv.ID).Delete(&model.PinnedMessage{}).Error
		}},
		{"messages", func() error {
			return db.Unscoped().Where("conversation_id = ?", conv.ID).Delete(&model.Message{}).Error
		}},
		{"participants", func() error {
			return db.Where("conversation_id = ?", conv.ID).Delete(&model.Participant{}).Error
		}},
		{"conversation", func() error {
			return db.Delete(&model.Conversation{}, "id = ?", conv.ID).Error
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("delete conversation %s: %s: %w", conv.ID, step.name, err)
		}
	}
	s.d.Cache.Invalidate(conv.ID)
	return nil
}

// MarkRead records read receipts for every visible message the caller did
// not send. It returns the number of new receipts.
func (s *Conversations) MarkRead(ctx context.Context, caller access.Caller, id string) (int, error) {
	if _, err := s.d.Access.RequireParticipant(ctx, id, caller.ID); err != nil {
		return 0, err
	}

	var ids []string
	err := s.d.DB.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", id, caller.ID).
		Where("id NOT IN (?)", s.d.DB.Model(&model.MessageRead{}).Select("message_id").Where("user_id = ?", caller.ID)).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find unread messages: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	rows := make([]model.MessageRead, len(ids))
	for i, mid := range ids {
		rows[i] = model.MessageRead{MessageID: mid, UserID: caller.ID, ReadAt: s.d.Now()}
	}
	if err := s.d.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("record read receipts: %w", err)
	}
	return len(rows), nil
}
