package services

import (
	"context"

	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
	"conversation-service/internal/telemetry"
)

// MembershipManager owns participant rows and conversation-level flags.
type MembershipManager struct {
	deps Deps
}

func NewMembershipManager(deps Deps) *MembershipManager {
	return &MembershipManager{deps: deps}
}

// Join adds userID to a non-direct conversation. The actor must be an admin.
func (m *MembershipManager) Join(ctx context.Context, actorID, conversationID, userID int, role models.ParticipantRole) (models.Participant, error) {
	ctx = context.WithoutCancel(ctx)
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return models.Participant{}, errs.Validation("unknown participant role")
	}
	if userID <= 0 {
		return models.Participant{}, errs.Validation("user_id is required")
	}
	conv, actor, err := m.deps.membership(ctx, conversationID, actorID)
	if err != nil {
		return models.Participant{}, err
	}
	if conv.Type == models.ConversationDirect {
		return models.Participant{}, errs.Validation("direct conversations have fixed membership")
	}
	if actor.Role != models.RoleAdmin {
		return models.Participant{}, errs.Authorization("only admins can add participants")
	}
	if _, err := m.deps.Store.Users.GetUser(ctx, userID); err != nil {
		return models.Participant{}, err
	}

	p, err := m.deps.Store.Participants.AddParticipant(ctx, conversationID, userID, role, m.deps.now())
	if err != nil {
		return models.Participant{}, err
	}

	members, err := m.deps.participantIDs(ctx, conversationID)
	if err != nil {
		m.deps.Log.Warn("list participants after join failed", zap.Int("conversation_id", conversationID), zap.Error(err))
		members = []int{actorID, userID}
	}
	m.deps.invalidate(ctx, conversationID, members...)
	m.deps.notify(realtime.ParticipantJoined, conversationID, nil, intPtr(userID), members)
	m.deps.Audit.Emit(ctx, intPtr(actorID), telemetry.AuditPayload{
		Action:         telemetry.ActionParticipantAdded,
		ConversationID: conversationID,
		TargetUserID:   intPtr(userID),
	})
	return p, nil
}

// Leave ends userID's membership. Users may leave on their own; admins may
// remove others.
func (m *MembershipManager) Leave(ctx context.Context, actorID, conversationID, userID int) error {
	ctx = context.WithoutCancel(ctx)
	_, actor, err := m.deps.membership(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && actor.Role != models.RoleAdmin {
		return errs.Authorization("only admins can remove other participants")
	}

	members, err := m.deps.participantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := m.deps.Store.Participants.MarkLeft(ctx, conversationID, userID, m.deps.now()); err != nil {
		return err
	}

	m.deps.invalidate(ctx, conversationID, members...)
	m.deps.notify(realtime.ParticipantLeft, conversationID, nil, intPtr(userID), members)
	m.deps.Audit.Emit(ctx, intPtr(actorID), telemetry.AuditPayload{
		Action:         telemetry.ActionParticipantLeft,
		ConversationID: conversationID,
		TargetUserID:   intPtr(userID),
	})
	return nil
}

// SetMuted changes the caller's own notification preference.
func (m *MembershipManager) SetMuted(ctx context.Context, actorID, conversationID, userID int, muted bool) (models.Participant, error) {
	ctx = context.WithoutCancel(ctx)
	if actorID != userID {
		return models.Participant{}, errs.Authorization("participants can only change their own settings")
	}
	if _, _, err := m.deps.membership(ctx, conversationID, userID); err != nil {
		return models.Participant{}, err
	}
	p, err := retryValue(ctx, m.deps.retrier(), "set_muted", func(ctx context.Context) (models.Participant, error) {
		return m.deps.Store.Participants.SetMuted(ctx, conversationID, userID, muted)
	})
	if err != nil {
		return models.Participant{}, err
	}
	m.deps.invalidate(ctx, conversationID, userID)
	m.deps.notify(realtime.ConversationUpdated, conversationID, nil, intPtr(userID), []int{userID})
	return p, nil
}

// SetPinned pins or unpins the conversation for every participant.
func (m *MembershipManager) SetPinned(ctx context.Context, actorID, conversationID int, pinned bool) (models.Conversation, error) {
	return m.UpdateFlags(ctx, actorID, conversationID, models.ConversationFlags{Pinned: &pinned})
}

// SetArchived archives or restores the conversation for every participant.
func (m *MembershipManager) SetArchived(ctx context.Context, actorID, conversationID int, archived bool) (models.Conversation, error) {
	return m.UpdateFlags(ctx, actorID, conversationID, models.ConversationFlags{Archived: &archived})
}

// UpdateFlags applies every set flag together: either all of them are stored
// or none is.
func (m *MembershipManager) UpdateFlags(ctx context.Context, actorID, conversationID int, flags models.ConversationFlags) (models.Conversation, error) {
	if flags.Empty() {
		return models.Conversation{}, errs.Validation("nothing to update")
	}
	ctx = context.WithoutCancel(ctx)
	conv, actor, err := m.deps.membership(ctx, conversationID, actorID)
	if err != nil {
		return models.Conversation{}, err
	}
	// Both sides of a direct conversation administer it.
	if conv.Type != models.ConversationDirect && actor.Role != models.RoleAdmin {
		return models.Conversation{}, errs.Authorization("only admins can change conversation flags")
	}

	updated, err := retryValue(ctx, m.deps.retrier(), "update_flags", func(ctx context.Context) (models.Conversation, error) {
		return m.deps.Store.Conversations.UpdateFlags(ctx, conversationID, flags, m.deps.now())
	})
	if err != nil {
		return models.Conversation{}, err
	}
	members, err := m.deps.participantIDs(ctx, conversationID)
	if err != nil {
		m.deps.Log.Warn("list participants after flag change failed", zap.Int("conversation_id", conversationID), zap.Error(err))
		members = []int{actorID}
	}
	m.deps.invalidate(ctx, conversationID, members...)
	m.deps.notify(realtime.ConversationUpdated, conversationID, nil, intPtr(actorID), members)
	return updated, nil
}
