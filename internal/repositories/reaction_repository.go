package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// AddReaction records a reaction; repeating it is a no-op.
func (r *ReactionRepo) AddReaction(ctx context.Context, reaction models.Reaction) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO reactions (message_id, user_id, kind, created_at) VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, user_id, kind) DO NOTHING`, reaction.MessageID, reaction.UserID, reaction.Kind, reaction.CreatedAt)
	return translate("add reaction", err, nil)
}

// RemoveReaction deletes a reaction if present.
func (r *ReactionRepo) RemoveReaction(ctx context.Context, messageID, userID int, kind string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND kind = $3`, messageID, userID, kind)
	return translate("remove reaction", err, nil)
}

// CountReactions aggregates reactions per message and kind.
func (r *ReactionRepo) CountReactions(ctx context.Context, messageIDs []int, viewerID int) ([]models.ReactionCount, error) {
	if len(messageIDs) == 0 {
		return []models.ReactionCount{}, nil
	}
	var counts []models.ReactionCount
	err := r.db.SelectContext(ctx, &counts, `SELECT message_id, kind, COUNT(*) AS count, BOOL_OR(user_id = $2) AS reacted_by_me
        FROM reactions WHERE message_id = ANY($1)
        GROUP BY message_id, kind ORDER BY message_id, kind`, pq.Array(toInt64s(messageIDs)), viewerID)
	return counts, translate("count reactions", err, nil)
}
