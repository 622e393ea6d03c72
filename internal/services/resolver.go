package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/realtime"
	"conversation-service/internal/repositories"
)

// ConversationResolver finds or creates the direct conversation for a pair.
type ConversationResolver struct {
	deps Deps
}

func NewConversationResolver(deps Deps) *ConversationResolver {
	return &ConversationResolver{deps: deps}
}

// ResolveDirect returns the active direct conversation between userA and
// userB, creating it with userA as creator when none exists. The bool reports
// whether a conversation was created. The pair key index makes concurrent
// creators converge on one row.
func (r *ConversationResolver) ResolveDirect(ctx context.Context, userA, userB int) (models.Conversation, bool, error) {
	if userA <= 0 || userB <= 0 {
		return models.Conversation{}, false, errs.Validation("both user ids are required")
	}
	if userA == userB {
		return models.Conversation{}, false, errs.Validation("cannot start a conversation with yourself")
	}

	ctx, span := observability.Tracer().Start(context.WithoutCancel(ctx), "conversations.resolve_direct")
	defer span.End()
	span.SetAttributes(attribute.Int("user_a", userA), attribute.Int("user_b", userB))

	if _, err := retryValue(ctx, r.deps.retrier(), "get_user", func(ctx context.Context) (models.User, error) {
		return r.deps.Store.Users.GetUser(ctx, userB)
	}); err != nil {
		return models.Conversation{}, false, err
	}

	var created bool
	conv, err := retryValue(ctx, r.deps.retrier(), "resolve_direct", func(ctx context.Context) (models.Conversation, error) {
		existing, err := r.deps.Store.Conversations.FindDirect(ctx, userA, userB)
		if err != nil {
			return models.Conversation{}, err
		}
		if len(existing) > 0 {
			created = false
			return existing[0], nil
		}

		conv, err := r.deps.Store.Conversations.CreateDirect(ctx, userA, userB, r.deps.now())
		if err == nil {
			created = true
			return conv, nil
		}
		if !errors.Is(err, repositories.ErrDirectExists) {
			return models.Conversation{}, err
		}

		// The key is taken: either a concurrent creator won or one side left.
		conv, err = r.deps.Store.Conversations.GetDirectByKey(ctx, models.DirectKey(userA, userB))
		if err != nil {
			return models.Conversation{}, err
		}
		created = false
		return conv, r.rejoin(ctx, conv, userA, userB)
	})
	if err != nil {
		span.RecordError(err)
		return models.Conversation{}, false, err
	}

	if created {
		r.deps.Log.Info("direct conversation created",
			zap.Int("conversation_id", conv.ID), zap.Int("user_a", userA), zap.Int("user_b", userB))
		r.deps.invalidate(ctx, 0, userA, userB)
		r.deps.notify(realtime.ConversationUpdated, conv.ID, nil, intPtr(userA), []int{userA, userB})
	}
	return conv, created, nil
}

// rejoin restores an active participant row for each user missing one.
func (r *ConversationResolver) rejoin(ctx context.Context, conv models.Conversation, users ...int) error {
	for _, userID := range users {
		_, err := r.deps.Store.Participants.GetActive(ctx, conv.ID, userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		role := models.RoleMember
		if userID == conv.CreatedBy {
			role = models.RoleAdmin
		}
		if _, err := r.deps.Store.Participants.AddParticipant(ctx, conv.ID, userID, role, r.deps.now()); err != nil && !errors.Is(err, repositories.ErrAlreadyParticipant) {
			return err
		}
		r.deps.Log.Info("participant rejoined direct conversation",
			zap.Int("conversation_id", conv.ID), zap.Int("user_id", userID))
		r.deps.invalidate(ctx, conv.ID, users...)
		r.deps.notify(realtime.ParticipantJoined, conv.ID, nil, intPtr(userID), users)
	}
	return nil
}
