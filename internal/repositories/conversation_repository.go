package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
)

const conversationColumns = `c.id, c.type, c.name, c.avatar_url, c.direct_key, c.created_by, c.created_at, c.updated_at,
	c.last_message_at, c.last_message_preview, c.last_message_sender_id, c.participant_count, c.message_count,
	c.is_pinned, c.pinned_at, c.is_archived, c.is_active`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindDirect returns active direct conversations in which both users are active
// participants, oldest first.
func (r *ConversationRepo) FindDirect(ctx context.Context, userA, userB int) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c
        JOIN participants pa ON pa.conversation_id = c.id AND pa.user_id = $1 AND pa.left_at IS NULL
        JOIN participants pb ON pb.conversation_id = c.id AND pb.user_id = $2 AND pb.left_at IS NULL
        WHERE c.type = 'direct' AND c.is_active = TRUE
        ORDER BY c.created_at ASC, c.id ASC`
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, query, userA, userB)
	return convs, translate("find direct conversation", err, nil)
}

// GetDirectByKey fetches the active direct conversation holding the pair key.
func (r *ConversationRepo) GetDirectByKey(ctx context.Context, key string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations c
        WHERE c.direct_key = $1 AND c.type = 'direct' AND c.is_active = TRUE`, key)
	return conv, translate("get direct conversation", err, ErrConversationNotFound)
}

// CreateDirect inserts a direct conversation and both participant rows in one
// transaction. Nothing is committed unless both participants are stored.
func (r *ConversationRepo) CreateDirect(ctx context.Context, creatorID, otherID int, at time.Time) (conv models.Conversation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, translate("begin create direct", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	key := models.DirectKey(creatorID, otherID)
	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations AS c (type, direct_key, created_by, created_at, updated_at, participant_count, is_active)
        VALUES ('direct', $1, $2, $3, $3, 2, TRUE)
        RETURNING `+conversationColumns, key, creatorID, at)
	if err != nil {
		err = translate("insert direct conversation", err, nil)
		if errors.Is(err, errs.ErrConflict) {
			err = ErrDirectExists
		}
		return models.Conversation{}, err
	}

	insert := `INSERT INTO participants (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, insert, conv.ID, creatorID, models.RoleAdmin, at); err != nil {
		return models.Conversation{}, translate("insert creator participant", err, nil)
	}
	if _, err = tx.ExecContext(ctx, insert, conv.ID, otherID, models.RoleMember, at); err != nil {
		return models.Conversation{}, translate("insert other participant", err, nil)
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, translate("commit create direct", err, nil)
	}
	return conv, nil
}

// GetConversation fetches a conversation by id, active or not.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, conversationID)
	return conv, translate("get conversation", err, ErrConversationNotFound)
}

// ListForUser returns active conversations in which the user is an active participant.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int, includeArchived bool) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c
        JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1 AND p.left_at IS NULL
        WHERE c.is_active = TRUE AND ($2 OR c.is_archived = FALSE)
        ORDER BY c.id`
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, query, userID, includeArchived)
	return convs, translate("list conversations", err, nil)
}

// UpdateFlags changes the conversation-wide pin and archive flags in one
// statement. pinned_at is kept while the conversation stays pinned so pinned
// ordering does not shift.
func (r *ConversationRepo) UpdateFlags(ctx context.Context, conversationID int, flags models.ConversationFlags, at time.Time) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `UPDATE conversations AS c SET
            is_pinned = COALESCE($2::boolean, c.is_pinned),
            pinned_at = CASE WHEN COALESCE($2::boolean, c.is_pinned) THEN COALESCE(c.pinned_at, $4) ELSE NULL END,
            is_archived = COALESCE($3::boolean, c.is_archived),
            updated_at = $4
        WHERE c.id = $1 AND c.is_active = TRUE
        RETURNING `+conversationColumns, conversationID, flags.Pinned, flags.Archived, at)
	return conv, translate("update conversation flags", err, ErrConversationNotFound)
}

// Deactivate soft-deletes a conversation.
func (r *ConversationRepo) Deactivate(ctx context.Context, conversationID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_active = TRUE`, conversationID, at)
	if err != nil {
		return translate("deactivate conversation", err, nil)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return translate("deactivate conversation", err, nil)
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// FindDuplicateDirects lists user pairs sharing more than one active direct conversation.
func (r *ConversationRepo) FindDuplicateDirects(ctx context.Context) ([]models.DuplicateDirect, error) {
	query := `SELECT pa.user_id AS user_a, pb.user_id AS user_b, array_agg(c.id ORDER BY c.created_at, c.id) AS ids
        FROM conversations c
        JOIN participants pa ON pa.conversation_id = c.id AND pa.left_at IS NULL
        JOIN participants pb ON pb.conversation_id = c.id AND pb.left_at IS NULL AND pb.user_id > pa.user_id
        WHERE c.type = 'direct' AND c.is_active = TRUE
        GROUP BY pa.user_id, pb.user_id
        HAVING COUNT(*) > 1`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, translate("find duplicate directs", err, nil)
	}
	defer rows.Close()

	var result []models.DuplicateDirect
	for rows.Next() {
		var (
			dup models.DuplicateDirect
			ids []int64
		)
		if err := rows.Scan(&dup.UserA, &dup.UserB, pq.Array(&ids)); err != nil {
			return nil, translate("scan duplicate directs", err, nil)
		}
		for _, id := range ids {
			dup.ConversationIDs = append(dup.ConversationIDs, int(id))
		}
		result = append(result, dup)
	}
	return result, translate("iterate duplicate directs", rows.Err(), nil)
}
