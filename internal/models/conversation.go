package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConversationType enumerates the supported conversation kinds.
type ConversationType string

const (
	ConversationDirect    ConversationType = "direct"
	ConversationGroup     ConversationType = "group"
	ConversationLocation  ConversationType = "location"
	ConversationBroadcast ConversationType = "broadcast"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationLocation, ConversationBroadcast:
		return true
	}
	return false
}

// Conversation is the persisted conversation row with its denormalized summary.
type Conversation struct {
	ID                  int              `db:"id" json:"id"`
	Type                ConversationType `db:"type" json:"type"`
	Name                *string          `db:"name" json:"name,omitempty"`
	AvatarURL           *string          `db:"avatar_url" json:"avatar_url,omitempty"`
	DirectKey           *string          `db:"direct_key" json:"-"`
	CreatedBy           int              `db:"created_by" json:"created_by"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
	LastMessageAt       *time.Time       `db:"last_message_at" json:"last_message_at,omitempty"`
	LastMessagePreview  *string          `db:"last_message_preview" json:"last_message_preview,omitempty"`
	LastMessageSenderID *int             `db:"last_message_sender_id" json:"last_message_sender_id,omitempty"`
	ParticipantCount    int              `db:"participant_count" json:"participant_count"`
	MessageCount        int              `db:"message_count" json:"message_count"`
	IsPinned            bool             `db:"is_pinned" json:"is_pinned"`
	PinnedAt            *time.Time       `db:"pinned_at" json:"pinned_at,omitempty"`
	IsArchived          bool             `db:"is_archived" json:"is_archived"`
	IsActive            bool             `db:"is_active" json:"is_active"`
}

// ActivityAt is last_message_at, or created_at for conversations without messages.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// DirectKey builds the order-independent key identifying a user pair.
func DirectKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ParticipantRole is the role of a member within a conversation.
type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// NotificationSettings is stored as JSONB on the participant row.
type NotificationSettings struct {
	Muted bool `json:"muted"`
}

func (n NotificationSettings) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *NotificationSettings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = NotificationSettings{}
		return nil
	case []byte:
		return json.Unmarshal(v, n)
	case string:
		return json.Unmarshal([]byte(v), n)
	default:
		return errors.New("notification_settings: unsupported type")
	}
}

// Participant is a user's membership in a conversation. A null LeftAt means active.
type Participant struct {
	ID                   int                  `db:"id" json:"-"`
	ConversationID       int                  `db:"conversation_id" json:"conversation_id"`
	UserID               int                  `db:"user_id" json:"user_id"`
	Role                 ParticipantRole      `db:"role" json:"role"`
	JoinedAt             time.Time            `db:"joined_at" json:"joined_at"`
	LeftAt               *time.Time           `db:"left_at" json:"left_at,omitempty"`
	LastReadAt           *time.Time           `db:"last_read_at" json:"last_read_at,omitempty"`
	NotificationSettings NotificationSettings `db:"notification_settings" json:"notification_settings"`
}

func (p Participant) Active() bool { return p.LeftAt == nil }

// CanModerate reports whether the participant may act on other members' content.
func (p Participant) CanModerate() bool {
	return p.Role == RoleAdmin || p.Role == RoleModerator
}

// DuplicateDirect groups the active direct conversations found for one user pair,
// oldest first.
type DuplicateDirect struct {
	UserA           int
	UserB           int
	ConversationIDs []int
}

// ConversationFlags is a partial update of the conversation-wide flags. Nil
// fields are left unchanged.
type ConversationFlags struct {
	Pinned   *bool
	Archived *bool
}

// Empty reports whether no flag is set.
func (f ConversationFlags) Empty() bool {
	return f.Pinned == nil && f.Archived == nil
}
