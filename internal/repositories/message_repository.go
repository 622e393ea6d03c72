package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"conversation-service/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, message_type, created_at, edited_at, is_edited,
	deleted_at, deleted_by, is_deleted, media, reply_to_id, metadata`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and moves the conversation summary to it in
// one transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (stored models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, translate("begin create message", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &stored, `INSERT INTO messages
            (conversation_id, sender_id, content, message_type, created_at, media, reply_to_id, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.CreatedAt, msg.Media, msg.ReplyToID, msg.Metadata)
	if err != nil {
		return models.Message{}, translate("insert message", err, nil)
	}

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET
            last_message_at = $2, last_message_preview = $3, last_message_sender_id = $4,
            message_count = message_count + 1, updated_at = $2
        WHERE id = $1 AND is_active = TRUE`,
		stored.ConversationID, stored.CreatedAt, stored.Preview(), stored.SenderID)
	if err != nil {
		return models.Message{}, translate("update conversation summary", err, nil)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, translate("update conversation summary", err, nil)
	}
	if count == 0 {
		err = ErrConversationNotFound
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, translate("commit message", err, nil)
	}
	return stored, nil
}

// GetMessage retrieves a single message including deleted ones.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	return msg, translate("get message", err, ErrMessageNotFound)
}

// ListMessages returns the newest limit messages (optionally before a point in
// time) in chronological order, created_at then id.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, limit int, before *time.Time) ([]models.Message, error) {
	query := `SELECT * FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE conversation_id = $1 AND ($3::timestamptz IS NULL OR created_at < $3)
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit, before)
	return msgs, translate("list messages", err, nil)
}

// LatestVisible returns the most recent non-deleted message, or nil.
func (r *MessageRepo) LatestVisible(ctx context.Context, conversationID int) (*models.Message, error) {
	return latestVisible(ctx, r.db, conversationID)
}

// LatestSenderOtherThan returns the sender of the most recent message not sent by userID.
func (r *MessageRepo) LatestSenderOtherThan(ctx context.Context, conversationID, userID int) (*int, error) {
	var senderID int
	err := r.db.GetContext(ctx, &senderID, `SELECT sender_id FROM messages
        WHERE conversation_id = $1 AND sender_id <> $2
        ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("latest other sender", err, nil)
	}
	return &senderID, nil
}

// EditMessage replaces the content, flags the edit and bumps the edit counter.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID int, content string, at time.Time) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, translate("begin edit", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &msg, `UPDATE messages SET content = $2, edited_at = $3, is_edited = TRUE,
            metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{edit_count}',
                to_jsonb(COALESCE((metadata->>'edit_count')::int, 0) + 1))
        WHERE id = $1 AND is_deleted = FALSE
        RETURNING `+messageColumns, messageID, content, at)
	if err != nil {
		return models.Message{}, translate("edit message", err, ErrMessageNotFound)
	}
	if err = refreshSummary(ctx, tx, msg.ConversationID, at); err != nil {
		return models.Message{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, translate("commit edit", err, nil)
	}
	return msg, nil
}

// SoftDelete hides a message and points the conversation summary at the most
// recent message that is still visible.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, deletedBy int, at time.Time) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, translate("begin delete", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &msg, `UPDATE messages SET is_deleted = TRUE, deleted_at = $3, deleted_by = $2
        WHERE id = $1 AND is_deleted = FALSE
        RETURNING `+messageColumns, messageID, deletedBy, at)
	if err != nil {
		return models.Message{}, translate("soft delete message", err, ErrMessageNotFound)
	}
	if err = refreshSummary(ctx, tx, msg.ConversationID, at); err != nil {
		return models.Message{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, translate("commit delete", err, nil)
	}
	return msg, nil
}

// CountUnread counts live messages from others created after since. A nil since
// counts every such message.
func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, userID int, since *time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE conversation_id = $1 AND sender_id <> $2 AND is_deleted = FALSE
        AND ($3::timestamptz IS NULL OR created_at > $3)`, conversationID, userID, since)
	return count, translate("count unread", err, nil)
}

func latestVisible(ctx context.Context, q sqlx.QueryerContext, conversationID int) (*models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id = $1 AND is_deleted = FALSE
        ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("latest visible message", err, nil)
	}
	return &msg, nil
}

func refreshSummary(ctx context.Context, tx *sqlx.Tx, conversationID int, at time.Time) error {
	latest, err := latestVisible(ctx, tx, conversationID)
	if err != nil {
		return err
	}
	var (
		lastAt   *time.Time
		preview  *string
		senderID *int
	)
	if latest != nil {
		text := latest.Preview()
		lastAt, preview, senderID = &latest.CreatedAt, &text, &latest.SenderID
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = $2, last_message_preview = $3,
            last_message_sender_id = $4, updated_at = $5 WHERE id = $1`,
		conversationID, lastAt, preview, senderID, at)
	return translate("refresh conversation summary", err, nil)
}
