package model

import "time"

// The view types are the only shapes that leave the store layer. Nested
// relations are always slices, never a row-or-array union.

type ConversationView struct {
	ID              string    `json:"id"`
	CommunityID     string    `json:"community_id"`
	Title           *string   `json:"title"`
	IsGroup         bool      `json:"is_group"`
	IsDefault       bool      `json:"is_default"`
	Color           *string   `json:"color"`
	BackgroundColor *string   `json:"background_color"`
	BubbleColor     *string   `json:"bubble_color"`
	TextColor       *string   `json:"text_color"`
	Emoji           *string   `json:"emoji"`
	CreatedAt       time.Time `json:"created_at"`
	Participants    []string  `json:"participants"`
}

func NewConversationView(c *Conversation, participants []string) ConversationView {
	if participants == nil {
		participants = []string{}
	}
	return ConversationView{
		ID:              c.ID,
		CommunityID:     c.CommunityID,
		Title:           c.Title,
		IsGroup:         c.IsGroup,
		IsDefault:       c.IsDefault,
		Color:           c.Color,
		BackgroundColor: c.BackgroundColor,
		BubbleColor:     c.BubbleColor,
		TextColor:       c.TextColor,
		Emoji:           c.Emoji,
		CreatedAt:       c.CreatedAt,
		Participants:    participants,
	}
}

type ReactionView struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentProcessing is the status shown for a file that is still waiting
// for its scan verdict.
const AttachmentProcessing = "processing"

type AttachmentView struct {
	ID            string  `json:"id"`
	Path          string  `json:"path,omitempty"`
	FileName      string  `json:"file_name"`
	ContentType   string  `json:"content_type"`
	Size          int64   `json:"size"`
	Status        string  `json:"status"`
	ThumbnailPath *string `json:"thumbnail_path"`
}

// Visible reports whether the attachment may be listed on its message.
// Infected, rejected and moderator-flagged files stay hidden.
func (a *Attachment) Visible() bool {
	return !a.Infected && !a.Flagged
}

// Released reports whether the file itself may be served: the scan passed
// and nothing flagged it.
func (a *Attachment) Released() bool {
	return a.Scanned && a.Visible()
}

// NewAttachmentView exposes storage paths only for released files. Anything
// else is a placeholder carrying the declared metadata.
func NewAttachmentView(a *Attachment) AttachmentView {
	v := AttachmentView{
		ID:          a.ID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		Status:      AttachmentProcessing,
	}
	if a.Released() {
		v.Path = a.Path
		v.Status = string(a.Status)
		v.ThumbnailPath = a.ThumbnailPath
	}
	return v
}

type MessageView struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	Body           string           `json:"body"`
	Edited         bool             `json:"is_edited"`
	ReplyToID      *string          `json:"reply_to_id"`
	CreatedAt      time.Time        `json:"created_at"`
	Reactions      []ReactionView   `json:"reactions"`
	Attachments    []AttachmentView `json:"attachments"`
}

func NewMessageView(m *Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Edited:         m.Edited(),
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
		Reactions:      []ReactionView{},
		Attachments:    []AttachmentView{},
	}
}

// Clone deep-copies the slices so cached views cannot be mutated by readers.
func (v MessageView) Clone() MessageView {
	out := v
	out.Reactions = append([]ReactionView{}, v.Reactions...)
	out.Attachments = append([]AttachmentView{}, v.Attachments...)
	return out
}

type ReactionSummary struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type PinView struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	PinnedBy       string      `json:"pinned_by"`
	PinnedAt       time.Time   `json:"pinned_at"`
	Message        MessageView `json:"message"`
}
