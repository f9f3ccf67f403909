// Package access is the single place where "participant" and "admin"
// capabilities are decided.
package access

import (
	"context"
	"errors"
	"fmt"

	"messaging-service/apperr"
	"messaging-service/database"
	"messaging-service/model"

	"gorm.io/gorm"
)

// Enforcer is satisfied by casbin's Enforcer and SyncedEnforcer.
type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID          string
	CommunityID string
}

type Checker struct {
	db       *gorm.DB
	enforcer Enforcer
}

func NewChecker(db *gorm.DB, enforcer Enforcer) *Checker {
	return &Checker{db: db, enforcer: enforcer}
}

func (c *Checker) conversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv := new(model.Conversation)
	err := c.db.WithContext(ctx).First(conv, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func (c *Checker) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return count > 0, nil
}

// RequireParticipant loads the conversation and checks membership. Unknown
// conversations are NotFound; known ones without membership are AccessDenied.
func (c *Checker) RequireParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := c.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ok, err := c.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.AccessDenied("not a participant of this conversation")
	}
	return conv, nil
}

func (c *Checker) IsAdmin(userID, communityID string) (bool, error) {
	ok, err := c.enforcer.Enforce(userID, communityID, "conversation", "manage")
	if err != nil {
		return false, fmt.Errorf("enforce admin role: %w", err)
	}
	return ok, nil
}

func (c *Checker) RequireAdmin(userID, communityID string) error {
	ok, err := c.IsAdmin(userID, communityID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AccessDenied("administrator role required")
	}
	return nil
}

// RequireConversationAdmin loads the conversation and checks that caller
// administers the community owning it.
func (c *Checker) RequireConversationAdmin(ctx context.Context, conversationID string, caller Caller) (*model.Conversation, error) {
	conv, err := c.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := c.RequireAdmin(caller.ID, conv.CommunityID); err != nil {
		return nil, err
	}
	return conv, nil
}

// GrantAdmin adds the community-scoped admin role; used by provisioning
// and tests.
func GrantAdmin(e interface {
	AddGroupingPolicy(params ...interface{}) (bool, error)
}, userID, communityID string) error {
	_, err := e.AddGroupingPolicy(userID, database.RoleAdmin, communityID)
	return err
}
