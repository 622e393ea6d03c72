package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
)

const participantColumns = `id, conversation_id, user_id, role, joined_at, left_at, last_read_at, notification_settings`

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// GetActive fetches the active membership row of a user.
func (r *ParticipantRepo) GetActive(ctx context.Context, conversationID, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM participants
        WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`, conversationID, userID)
	return p, translate("get participant", err, ErrParticipantNotFound)
}

// ListActive returns active participants ordered by join time.
func (r *ParticipantRepo) ListActive(ctx context.Context, conversationID int) ([]models.Participant, error) {
	var list []models.Participant
	err := r.db.SelectContext(ctx, &list, `SELECT `+participantColumns+` FROM participants
        WHERE conversation_id = $1 AND left_at IS NULL ORDER BY joined_at, id`, conversationID)
	return list, translate("list participants", err, nil)
}

// AddParticipant inserts a fresh membership row and bumps participant_count.
func (r *ParticipantRepo) AddParticipant(ctx context.Context, conversationID, userID int, role models.ParticipantRole, at time.Time) (p models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Participant{}, translate("begin add participant", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &p, `INSERT INTO participants (conversation_id, user_id, role, joined_at)
        VALUES ($1, $2, $3, $4) RETURNING `+participantColumns, conversationID, userID, role, at)
	if err != nil {
		err = translate("insert participant", err, nil)
		if errors.Is(err, errs.ErrConflict) {
			err = ErrAlreadyParticipant
		}
		return models.Participant{}, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET participant_count = participant_count + 1, updated_at = $2 WHERE id = $1`, conversationID, at); err != nil {
		return models.Participant{}, translate("bump participant count", err, nil)
	}
	if err = tx.Commit(); err != nil {
		return models.Participant{}, translate("commit add participant", err, nil)
	}
	return p, nil
}

// MarkLeft sets left_at on the active row. The row itself is kept for history.
func (r *ParticipantRepo) MarkLeft(ctx context.Context, conversationID, userID int, at time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate("begin leave", err, nil)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE participants SET left_at = $3
        WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL`, conversationID, userID, at)
	if err != nil {
		return translate("mark left", err, nil)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return translate("mark left", err, nil)
	}
	if count == 0 {
		err = ErrParticipantNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET participant_count = GREATEST(participant_count - 1, 0), updated_at = $2 WHERE id = $1`, conversationID, at); err != nil {
		return translate("drop participant count", err, nil)
	}
	if err = tx.Commit(); err != nil {
		return translate("commit leave", err, nil)
	}
	return nil
}

// SetMuted updates the participant's notification preference.
func (r *ParticipantRepo) SetMuted(ctx context.Context, conversationID, userID int, muted bool) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `UPDATE participants
        SET notification_settings = jsonb_set(COALESCE(notification_settings, '{}'::jsonb), '{muted}', to_jsonb($3::boolean))
        WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
        RETURNING `+participantColumns, conversationID, userID, muted)
	return p, translate("set muted", err, ErrParticipantNotFound)
}

// AdvanceReadCursor only ever moves last_read_at forward.
func (r *ParticipantRepo) AdvanceReadCursor(ctx context.Context, conversationID, userID int, upto time.Time) (models.Participant, bool, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `UPDATE participants SET last_read_at = $3
        WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
        AND (last_read_at IS NULL OR last_read_at < $3)
        RETURNING `+participantColumns, conversationID, userID, upto)
	if err == nil {
		return p, true, nil
	}
	err = translate("advance read cursor", err, ErrParticipantNotFound)
	if !errors.Is(err, errs.ErrNotFound) {
		return models.Participant{}, false, err
	}
	// Either not a participant or the cursor is already ahead.
	current, getErr := r.GetActive(ctx, conversationID, userID)
	if getErr != nil {
		return models.Participant{}, false, getErr
	}
	return current, false, nil
}
