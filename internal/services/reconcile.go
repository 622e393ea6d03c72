package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/realtime"
	"conversation-service/internal/telemetry"
)

// Reconciler deactivates surplus direct conversations for a pair, keeping the
// oldest one.
type Reconciler struct {
	deps Deps
}

func NewReconciler(deps Deps) *Reconciler {
	return &Reconciler{deps: deps}
}

// ReconcileResult reports one pass.
type ReconcileResult struct {
	Pairs       int   `json:"pairs"`
	Deactivated []int `json:"deactivated"`
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	ctx = context.WithoutCancel(ctx)
	dups, err := retryValue(ctx, r.deps.retrier(), "find_duplicate_directs", func(ctx context.Context) ([]models.DuplicateDirect, error) {
		return r.deps.Store.Conversations.FindDuplicateDirects(ctx)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{Pairs: len(dups), Deactivated: []int{}}
	for _, dup := range dups {
		if len(dup.ConversationIDs) < 2 {
			continue
		}
		canonical := dup.ConversationIDs[0]
		for _, surplus := range dup.ConversationIDs[1:] {
			if err := r.deps.retrier().Do(ctx, "deactivate_conversation", func(ctx context.Context) error {
				return r.deps.Store.Conversations.Deactivate(ctx, surplus, r.deps.now())
			}); err != nil {
				r.deps.Log.Error("deactivate duplicate failed", zap.Int("conversation_id", surplus), zap.Error(err))
				continue
			}
			result.Deactivated = append(result.Deactivated, surplus)
			r.deps.Log.Warn("deactivated duplicate direct conversation",
				zap.Int("conversation_id", surplus), zap.Int("canonical_id", canonical),
				zap.Int("user_a", dup.UserA), zap.Int("user_b", dup.UserB))
			r.deps.invalidate(ctx, surplus, dup.UserA, dup.UserB)
			r.deps.notify(realtime.ConversationUpdated, surplus, nil, nil, []int{dup.UserA, dup.UserB})
			r.deps.Audit.Emit(ctx, nil, telemetry.AuditPayload{
				Action:         telemetry.ActionDuplicateResolved,
				ConversationID: surplus,
			})
		}
		r.deps.invalidate(ctx, canonical)
		r.deps.notify(realtime.ConversationUpdated, canonical, nil, nil, []int{dup.UserA, dup.UserB})
	}
	observability.AddReconcileDeactivated(len(result.Deactivated))
	return result, nil
}

// Start runs a pass every interval until ctx is done. A non-positive interval
// disables the loop.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res, err := r.Run(ctx); err != nil {
				r.deps.Log.Error("reconciliation failed", zap.Error(err))
			} else if len(res.Deactivated) > 0 {
				r.deps.Log.Info("reconciliation pass", zap.Int("pairs", res.Pairs), zap.Ints("deactivated", res.Deactivated))
			}
		}
	}
}
