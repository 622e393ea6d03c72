package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

// ReceiptRepo is a sqlx implementation of ReceiptRepository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs a ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// MarkDelivered materializes delivery receipts for messages the user receives as
// an active participant. Existing delivered_at values are never overwritten.
func (r *ReceiptRepo) MarkDelivered(ctx context.Context, userID int, messageIDs []int, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO receipts (message_id, user_id, delivered_at)
        SELECT m.id, $1, $3 FROM messages m
        JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1 AND p.left_at IS NULL
        WHERE m.id = ANY($2) AND m.sender_id <> $1
        ON CONFLICT (message_id, user_id) DO UPDATE
            SET delivered_at = COALESCE(receipts.delivered_at, EXCLUDED.delivered_at)
            WHERE receipts.delivered_at IS NULL`, userID, pq.Array(toInt64s(messageIDs)), at)
	if err != nil {
		return 0, translate("mark delivered", err, nil)
	}
	count, err := res.RowsAffected()
	return int(count), translate("mark delivered", err, nil)
}

// MarkReadUpTo backfills read receipts for messages from others created at or
// before upto. A read message counts as delivered.
func (r *ReceiptRepo) MarkReadUpTo(ctx context.Context, conversationID, userID int, upto, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO receipts (message_id, user_id, delivered_at, read_at)
        SELECT m.id, $2, $4, $4 FROM messages m
        WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND m.created_at <= $3
        ON CONFLICT (message_id, user_id) DO UPDATE
            SET delivered_at = COALESCE(receipts.delivered_at, EXCLUDED.delivered_at),
                read_at = COALESCE(receipts.read_at, EXCLUDED.read_at)
            WHERE receipts.read_at IS NULL OR receipts.delivered_at IS NULL`, conversationID, userID, upto, at)
	if err != nil {
		return 0, translate("mark read", err, nil)
	}
	count, err := res.RowsAffected()
	return int(count), translate("mark read", err, nil)
}

// ListReceipts returns every receipt recorded for a message.
func (r *ReceiptRepo) ListReceipts(ctx context.Context, messageID int) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.SelectContext(ctx, &receipts, `SELECT message_id, user_id, delivered_at, read_at FROM receipts
        WHERE message_id = $1 ORDER BY user_id`, messageID)
	return receipts, translate("list receipts", err, nil)
}
