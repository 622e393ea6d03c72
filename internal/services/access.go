package services

import (
	"context"
	"errors"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
)

var errNotParticipant = errs.Authorization("not an active participant of this conversation")

// activeConversation loads a conversation that has not been deactivated.
func (d Deps) activeConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	conv, err := retryValue(ctx, d.retrier(), "get_conversation", func(ctx context.Context) (models.Conversation, error) {
		return d.Store.Conversations.GetConversation(ctx, conversationID)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.IsActive {
		return models.Conversation{}, errs.NotFound("conversation not found")
	}
	return conv, nil
}

// membership loads the conversation and the caller's active participant row.
func (d Deps) membership(ctx context.Context, conversationID, userID int) (models.Conversation, models.Participant, error) {
	conv, err := d.activeConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, models.Participant{}, err
	}
	p, err := retryValue(ctx, d.retrier(), "get_participant", func(ctx context.Context) (models.Participant, error) {
		return d.Store.Participants.GetActive(ctx, conversationID, userID)
	})
	if errors.Is(err, errs.ErrNotFound) {
		return models.Conversation{}, models.Participant{}, errNotParticipant
	}
	if err != nil {
		return models.Conversation{}, models.Participant{}, err
	}
	return conv, p, nil
}

func (d Deps) participantIDs(ctx context.Context, conversationID int) ([]int, error) {
	ps, err := retryValue(ctx, d.retrier(), "list_participants", func(ctx context.Context) ([]models.Participant, error) {
		return d.Store.Participants.ListActive(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}
