package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MessageType enumerates message kinds.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageSystem  MessageType = "system"
	MessageDeleted MessageType = "deleted"
)

// DeletedPlaceholder replaces the content of soft-deleted messages in every read view.
const DeletedPlaceholder = "Message deleted"

// Media describes an attachment uploaded elsewhere.
type Media struct {
	URL          string  `json:"url"`
	Type         string  `json:"type"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	Size         int64   `json:"size,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
}

func (m *Media) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Media) Scan(src any) error {
	return scanJSON(src, m)
}

// MessageMetadata is the free-form bag kept next to a message.
type MessageMetadata struct {
	Mentions      []int `json:"mentions,omitempty"`
	ForwardedFrom *int  `json:"forwarded_from,omitempty"`
	EditCount     int   `json:"edit_count"`
}

func (m MessageMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *MessageMetadata) Scan(src any) error {
	if src == nil {
		*m = MessageMetadata{}
		return nil
	}
	return scanJSON(src, m)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported json column type")
	}
}

// Message is a stored message. Deleted messages keep their content for audit.
type Message struct {
	ID             int             `db:"id" json:"id"`
	ConversationID int             `db:"conversation_id" json:"conversation_id"`
	SenderID       int             `db:"sender_id" json:"sender_id"`
	Content        string          `db:"content" json:"content"`
	Type           MessageType     `db:"message_type" json:"type"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	EditedAt       *time.Time      `db:"edited_at" json:"edited_at,omitempty"`
	IsEdited       bool            `db:"is_edited" json:"is_edited"`
	DeletedAt      *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy      *int            `db:"deleted_by" json:"deleted_by,omitempty"`
	IsDeleted      bool            `db:"is_deleted" json:"is_deleted"`
	Media          *Media          `db:"media" json:"media,omitempty"`
	ReplyToID      *int            `db:"reply_to_id" json:"reply_to_id,omitempty"`
	Metadata       MessageMetadata `db:"metadata" json:"metadata"`
}

// Visible returns the message as ordinary readers see it: deleted messages carry the
// placeholder and no media.
func (m Message) Visible() Message {
	if !m.IsDeleted {
		return m
	}
	m.Content = DeletedPlaceholder
	m.Type = MessageDeleted
	m.Media = nil
	return m
}

// Before orders messages by created_at with id as tie-break.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Preview is the short text shown in conversation lists.
const previewLength = 120

func (m Message) Preview() string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	if m.Type == MessageImage && m.Content == "" {
		return "Photo"
	}
	runes := []rune(m.Content)
	if len(runes) > previewLength {
		return string(runes[:previewLength-1]) + "…"
	}
	return m.Content
}

// Receipt tracks delivery and read state of one message for one recipient.
type Receipt struct {
	MessageID   int        `db:"message_id" json:"message_id"`
	UserID      int        `db:"user_id" json:"user_id"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Reaction is a single user's reaction to a message.
type Reaction struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Kind      string    `db:"kind" json:"kind"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReactionCount aggregates reactions of one kind on a message.
type ReactionCount struct {
	MessageID   int    `db:"message_id" json:"-"`
	Kind        string `db:"kind" json:"kind"`
	Count       int    `db:"count" json:"count"`
	ReactedByMe bool   `db:"reacted_by_me" json:"reacted_by_me"`
}
