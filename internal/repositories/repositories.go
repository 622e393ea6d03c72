package repositories

import (
	"context"
	"time"

	"conversation-service/internal/models"
)

// UserRepository reads user records owned by the profile service.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []int) ([]models.User, error)
}

// ConversationRepository persists conversations and their summaries.
type ConversationRepository interface {
	FindDirect(ctx context.Context, userA, userB int) ([]models.Conversation, error)
	GetDirectByKey(ctx context.Context, key string) (models.Conversation, error)
	CreateDirect(ctx context.Context, creatorID, otherID int, at time.Time) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int, includeArchived bool) ([]models.Conversation, error)
	// UpdateFlags applies every set flag in one statement.
	UpdateFlags(ctx context.Context, conversationID int, flags models.ConversationFlags, at time.Time) (models.Conversation, error)
	Deactivate(ctx context.Context, conversationID int, at time.Time) error
	FindDuplicateDirects(ctx context.Context) ([]models.DuplicateDirect, error)
}

// ParticipantRepository persists membership rows.
type ParticipantRepository interface {
	GetActive(ctx context.Context, conversationID, userID int) (models.Participant, error)
	ListActive(ctx context.Context, conversationID int) ([]models.Participant, error)
	AddParticipant(ctx context.Context, conversationID, userID int, role models.ParticipantRole, at time.Time) (models.Participant, error)
	MarkLeft(ctx context.Context, conversationID, userID int, at time.Time) error
	SetMuted(ctx context.Context, conversationID, userID int, muted bool) (models.Participant, error)
	// AdvanceReadCursor moves last_read_at forward to upto. It reports false when
	// the stored cursor is already at or past upto.
	AdvanceReadCursor(ctx context.Context, conversationID, userID int, upto time.Time) (models.Participant, bool, error)
}

// MessageRepository persists messages. Writes keep the conversation summary in
// the same transaction as the message change.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, limit int, before *time.Time) ([]models.Message, error)
	LatestVisible(ctx context.Context, conversationID int) (*models.Message, error)
	LatestSenderOtherThan(ctx context.Context, conversationID, userID int) (*int, error)
	EditMessage(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID, deletedBy int, at time.Time) (models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID int, since *time.Time) (int, error)
}

// ReceiptRepository persists per-recipient delivery and read state.
// Timestamps only ever move from null to a value.
type ReceiptRepository interface {
	MarkDelivered(ctx context.Context, userID int, messageIDs []int, at time.Time) (int, error)
	MarkReadUpTo(ctx context.Context, conversationID, userID int, upto, at time.Time) (int, error)
	ListReceipts(ctx context.Context, messageID int) ([]models.Receipt, error)
}

// ReactionRepository persists reactions.
type ReactionRepository interface {
	AddReaction(ctx context.Context, reaction models.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID int, kind string) error
	CountReactions(ctx context.Context, messageIDs []int, viewerID int) ([]models.ReactionCount, error)
}

// Store bundles every repository the core needs.
type Store struct {
	Users         UserRepository
	Conversations ConversationRepository
	Participants  ParticipantRepository
	Messages      MessageRepository
	Receipts      ReceiptRepository
	Reactions     ReactionRepository
}
