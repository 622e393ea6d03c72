package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
)

func TestJoinRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, member, newcomer := h.user("ana"), h.user("ben"), h.user("cid")
	conv := h.group("crew", admin.ID, member.ID)

	_, err := h.membership.Join(ctx, member.ID, conv.ID, newcomer.ID, "")
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	sub := h.bus.Subscribe(realtime.UserChannel(newcomer.ID))
	defer sub.Close()

	p, err := h.membership.Join(ctx, admin.ID, conv.ID, newcomer.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, p.Role)

	ev := <-sub.C
	assert.Equal(t, realtime.ParticipantJoined, ev.Kind)
	assert.Equal(t, conv.ID, ev.ConversationID)

	_, err = h.membership.Join(ctx, admin.ID, conv.ID, newcomer.ID, "")
	assert.ErrorIs(t, err, errs.ErrConflict)

	stored, err := h.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ParticipantCount)
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, _, direct := directPair(t, h)
	other := h.user("cid")
	group := h.group("crew", u1.ID)

	_, err := h.membership.Join(ctx, u1.ID, direct.ID, other.ID, "")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.membership.Join(ctx, u1.ID, group.ID, other.ID, "owner")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.membership.Join(ctx, u1.ID, group.ID, 999, "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLeaveSelfOrByAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, a, b := h.user("ana"), h.user("ben"), h.user("cid")
	conv := h.group("crew", admin.ID, a.ID, b.ID)

	err := h.membership.Leave(ctx, a.ID, conv.ID, b.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	require.NoError(t, h.membership.Leave(ctx, a.ID, conv.ID, a.ID))
	require.NoError(t, h.membership.Leave(ctx, admin.ID, conv.ID, b.ID))

	active, err := h.store.ListActive(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, admin.ID, active[0].UserID)

	err = h.membership.Leave(ctx, a.ID, conv.ID, a.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	list, err := h.feed.ListConversations(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetMutedOnlyOwnRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	_, err := h.membership.SetMuted(ctx, u1.ID, conv.ID, u2.ID, true)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	p, err := h.membership.SetMuted(ctx, u2.ID, conv.ID, u2.ID, true)
	require.NoError(t, err)
	assert.True(t, p.NotificationSettings.Muted)
}

func TestFlagsNeedAdminOutsideDirect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, direct := directPair(t, h)
	group := h.group("crew", u1.ID, u2.ID)

	conv, err := h.membership.SetPinned(ctx, u2.ID, direct.ID, true)
	require.NoError(t, err)
	assert.True(t, conv.IsPinned)
	require.NotNil(t, conv.PinnedAt)

	_, err = h.membership.SetArchived(ctx, u2.ID, group.ID, true)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	conv, err = h.membership.SetArchived(ctx, u1.ID, group.ID, true)
	require.NoError(t, err)
	assert.True(t, conv.IsArchived)

	conv, err = h.membership.SetPinned(ctx, u1.ID, direct.ID, false)
	require.NoError(t, err)
	assert.False(t, conv.IsPinned)
	assert.Nil(t, conv.PinnedAt)
}

func TestUpdateFlagsAppliesBothTogether(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, member := h.user("ana"), h.user("ben")
	group := h.group("crew", admin.ID, member.ID)
	pinned, archived := true, true

	_, err := h.membership.UpdateFlags(ctx, admin.ID, group.ID, models.ConversationFlags{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.membership.UpdateFlags(ctx, member.ID, group.ID, models.ConversationFlags{Pinned: &pinned, Archived: &archived})
	assert.ErrorIs(t, err, errs.ErrAuthorization)
	stored, err := h.store.GetConversation(ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsPinned)
	assert.False(t, stored.IsArchived)

	conv, err := h.membership.UpdateFlags(ctx, admin.ID, group.ID, models.ConversationFlags{Pinned: &pinned, Archived: &archived})
	require.NoError(t, err)
	assert.True(t, conv.IsPinned)
	assert.True(t, conv.IsArchived)
	require.NotNil(t, conv.PinnedAt)
}
