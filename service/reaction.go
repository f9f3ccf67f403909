package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"messaging-service/access"
	"messaging-service/apperr"
	"messaging-service/model"

	"gorm.io/gorm"
)

const maxEmojiLength = 64

type ToggleResult struct {
	Added bool   `json:"added"`
	Emoji string `json:"emoji"`
}

type Reactions struct {
	d *Deps
}

// liveMessage loads a non-deleted message and checks that caller can see
// its conversation.
func (s *Reactions) liveMessage(ctx context.Context, caller access.Caller, messageID string) (*model.Message, error) {
	msg := new(model.Message)
	err := s.d.DB.WithContext(ctx).First(msg, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("message")
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if _, err := s.d.Access.RequireParticipant(ctx, msg.ConversationID, caller.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Toggle removes the caller's reaction when it matches emoji and otherwise
// replaces whatever reaction the caller had with emoji.
func (s *Reactions) Toggle(ctx context.Context, caller access.Caller, messageID, emoji string) (ToggleResult, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return ToggleResult{}, apperr.Validation("reaction must be between 1 and %d bytes", maxEmojiLength)
	}

	msg, err := s.liveMessage(ctx, caller, messageID)
	if err != nil {
		return ToggleResult{}, err
	}

	result := ToggleResult{Emoji: emoji}
	result.Added, err = s.toggle(ctx, msg.ID, caller.ID, emoji)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent toggle by the same user inserted first; the second
		// attempt sees its row.
		s.d.Log.Debug().Str("message_id", msg.ID).Str("user_id", caller.ID).Msg("reaction toggle raced, retrying")
		result.Added, err = s.toggle(ctx, msg.ID, caller.ID, emoji)
	}
	if err != nil {
		return ToggleResult{}, err
	}

	s.d.Cache.MutateReaction(msg.ConversationID, msg.ID, caller.ID, emoji, result.Added)

	action := "reaction.remove"
	if result.Added {
		action = "reaction.add"
	}
	s.d.Audit.Record(ctx, caller.ID, action, "reactions", msg.ID, map[string]any{"emoji": emoji})
	return result, nil
}

// toggle applies one toggle in a transaction and reports whether emoji is now
// the user's reaction.
func (s *Reactions) toggle(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	added := false
	err := s.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.Reaction
		if err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load reactions: %w", err)
		}

		same := false
		for _, r := range existing {
			if r.Emoji == emoji {
				same = true
			}
		}

		if len(existing) > 0 {
			if err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).Delete(&model.Reaction{}).Error; err != nil {
				return fmt.Errorf("remove reactions: %w", err)
			}
		}
		if same {
			return nil
		}

		added = true
		return tx.Create(&model.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: s.d.Now(),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// List groups the reactions on a message by emoji, most used first.
func (s *Reactions) List(ctx context.Context, caller access.Caller, messageID string) ([]model.ReactionSummary, error) {
	msg, err := s.liveMessage(ctx, caller, messageID)
	if err != nil {
		return nil, err
	}

	var reactions []model.Reaction
	if err := s.d.DB.WithContext(ctx).Where("message_id = ?", msg.ID).Order("created_at asc").Find(&reactions).Error; err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}

	index := map[string]int{}
	summaries := []model.ReactionSummary{}
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(summaries)
			index[r.Emoji] = i
			summaries = append(summaries, model.ReactionSummary{Emoji: r.Emoji, Users: []string{}})
		}
		summaries[i].Count++
		summaries[i].Users = append(summaries[i].Users, r.UserID)
	}
	sort.SliceStable(summaries, func(a, b int) bool {
		return summaries[a].Count > summaries[b].Count
	})
	return summaries, nil
}
