package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
)

const maxDeliveredBatch = 500

// ReceiptTracker records per-recipient delivery and read state.
type ReceiptTracker struct {
	deps Deps
}

func NewReceiptTracker(deps Deps) *ReceiptTracker {
	return &ReceiptTracker{deps: deps}
}

// MarkDelivered materializes missing delivery receipts for userID. Messages the
// user sent, or that live in conversations the user is not in, are skipped.
// It returns the number of receipts written.
func (t *ReceiptTracker) MarkDelivered(ctx context.Context, userID int, messageIDs []int) (int, error) {
	ids := uniquePositive(messageIDs)
	if len(ids) == 0 {
		return 0, errs.Validation("message_ids must not be empty")
	}
	if len(ids) > maxDeliveredBatch {
		return 0, errs.Validation("too many message ids")
	}
	ctx = context.WithoutCancel(ctx)
	return retryValue(ctx, t.deps.retrier(), "mark_delivered", func(ctx context.Context) (int, error) {
		return t.deps.Store.Receipts.MarkDelivered(ctx, userID, ids, t.deps.now())
	})
}

// MarkRead moves userID's read cursor in conversationID to upto and backfills
// read receipts for earlier messages from others. A nil or future upto means
// now. Moving the cursor backwards is a conflict; repeating it is a no-op.
func (t *ReceiptTracker) MarkRead(ctx context.Context, userID, conversationID int, upto *time.Time) (models.Participant, error) {
	ctx = context.WithoutCancel(ctx)
	now := t.deps.now()
	cursor := now
	if upto != nil && upto.Before(now) {
		cursor = upto.UTC()
	}

	_, p, err := t.deps.membership(ctx, conversationID, userID)
	if err != nil {
		return models.Participant{}, err
	}
	if p.LastReadAt != nil {
		if cursor.Before(*p.LastReadAt) {
			return p, errs.Conflict("read cursor cannot move backwards")
		}
		if cursor.Equal(*p.LastReadAt) {
			return p, nil
		}
	}

	retry := t.deps.retrier()
	var advanced bool
	p, err = retryValue(ctx, retry, "advance_read_cursor", func(ctx context.Context) (models.Participant, error) {
		updated, ok, err := t.deps.Store.Participants.AdvanceReadCursor(ctx, conversationID, userID, cursor)
		advanced = ok
		return updated, err
	})
	if err != nil {
		return models.Participant{}, err
	}
	if !advanced {
		return p, nil
	}

	if _, err := retryValue(ctx, retry, "mark_read_receipts", func(ctx context.Context) (int, error) {
		return t.deps.Store.Receipts.MarkReadUpTo(ctx, conversationID, userID, cursor, now)
	}); err != nil {
		t.deps.Log.Warn("read receipt backfill failed", zap.Int("conversation_id", conversationID), zap.Int("user_id", userID), zap.Error(err))
	}

	t.deps.invalidate(ctx, 0, userID)
	t.deps.notify(realtime.ReceiptUpdated, conversationID, nil, intPtr(userID), []int{userID})
	return p, nil
}

// markReadQuietly is the fetch-side read cursor update. Regressions and
// failures are logged only.
func (t *ReceiptTracker) markReadQuietly(ctx context.Context, userID, conversationID int) {
	if _, err := t.MarkRead(ctx, userID, conversationID, nil); err != nil && !errors.Is(err, errs.ErrConflict) {
		t.deps.Log.Warn("mark read on fetch failed", zap.Int("conversation_id", conversationID), zap.Int("user_id", userID), zap.Error(err))
	}
}

// UnreadCount counts visible messages from others newer than the read cursor.
// A participant who never read sees every such message as unread.
func (t *ReceiptTracker) UnreadCount(ctx context.Context, userID, conversationID int) (int, error) {
	_, p, err := t.deps.membership(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return t.countUnread(ctx, p)
}

func (t *ReceiptTracker) countUnread(ctx context.Context, p models.Participant) (int, error) {
	return retryValue(ctx, t.deps.retrier(), "count_unread", func(ctx context.Context) (int, error) {
		return t.deps.Store.Messages.CountUnread(ctx, p.ConversationID, p.UserID, p.LastReadAt)
	})
}

// Receipts lists receipts for a message. Only its sender may see them.
func (t *ReceiptTracker) Receipts(ctx context.Context, actorID, conversationID, messageID int) ([]models.Receipt, error) {
	if _, _, err := t.deps.membership(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	msg, err := t.deps.Store.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, errs.NotFound("message not found")
	}
	if msg.SenderID != actorID {
		return nil, errs.Authorization("only the sender can view receipts")
	}
	return retryValue(ctx, t.deps.retrier(), "list_receipts", func(ctx context.Context) ([]models.Receipt, error) {
		return t.deps.Store.Receipts.ListReceipts(ctx, messageID)
	})
}

func uniquePositive(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
