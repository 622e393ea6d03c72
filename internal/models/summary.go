package models

import "time"

// MessagePreview is the last-message block of a conversation summary.
type MessagePreview struct {
	MessageID *int        `json:"message_id,omitempty"`
	SenderID  *int        `json:"sender_id,omitempty"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID   int              `json:"conversation_id"`
	Type             ConversationType `json:"type"`
	Title            string           `json:"title"`
	AvatarURL        *string          `json:"avatar_url,omitempty"`
	Counterpart      *UserRef         `json:"counterpart,omitempty"`
	LastMessage      *MessagePreview  `json:"last_message,omitempty"`
	LastActivityAt   time.Time        `json:"last_activity_at"`
	UnreadCount      int              `json:"unread_count"`
	IsPinned         bool             `json:"is_pinned"`
	PinnedAt         *time.Time       `json:"pinned_at,omitempty"`
	IsArchived       bool             `json:"is_archived"`
	Muted            bool             `json:"muted"`
	ParticipantCount int              `json:"participant_count"`
	CreatedAt        time.Time        `json:"created_at"`
	Stale            bool             `json:"stale,omitempty"`
}

// ParticipantView is a participant joined with its user identity.
type ParticipantView struct {
	User     UserRef         `json:"user"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
	Muted    bool            `json:"muted"`
}

// ConversationDetail is the single-conversation view.
type ConversationDetail struct {
	Summary      ConversationSummary `json:"summary"`
	Participants []ParticipantView   `json:"participants"`
}

// MessageView is a message as returned to a reader.
type MessageView struct {
	Message
	Reactions []ReactionCount `json:"reactions,omitempty"`
}
