package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/errs"
)

func TestUnreadMonotonicity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		h.clock.Advance(time.Second)
		_, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, text))
		require.NoError(t, err)
	}

	unread, err := h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	h.clock.Advance(time.Second)
	upto := h.clock.Now()
	_, err = h.receipts.MarkRead(ctx, u2.ID, conv.ID, &upto)
	require.NoError(t, err)

	unread, err = h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	h.clock.Advance(time.Second)
	_, err = h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "four"))
	require.NoError(t, err)

	unread, err = h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestUnreadThenReadByFetching(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "hi"))
	require.NoError(t, err)

	unread, err := h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	h.clock.Advance(time.Second)
	msgs, err := h.messages.ListMessages(ctx, u2.ID, conv.ID, 20, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	unread, err = h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	receipts, err := h.receipts.Receipts(ctx, u1.ID, conv.ID, msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.NotNil(t, receipts[0].DeliveredAt)
	assert.NotNil(t, receipts[0].ReadAt)
}

func TestUnreadCountsFromTheStartWhenNeverRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	_, err = h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "first"))
	require.NoError(t, err)
	_, err = h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "mine"))
	require.NoError(t, err)
	deleted, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "oops"))
	require.NoError(t, err)
	_, err = h.messages.Delete(ctx, u1.ID, conv.ID, deleted.ID)
	require.NoError(t, err)

	unread, err := h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread, "own and deleted messages are not unread")
}

func TestMarkReadRejectsRegression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	later := h.clock.Now()
	earlier := later.Add(-30 * time.Second)

	p, err := h.receipts.MarkRead(ctx, u2.ID, conv.ID, &later)
	require.NoError(t, err)
	require.NotNil(t, p.LastReadAt)

	_, err = h.receipts.MarkRead(ctx, u2.ID, conv.ID, &earlier)
	assert.ErrorIs(t, err, errs.ErrConflict)

	p, err = h.receipts.MarkRead(ctx, u2.ID, conv.ID, &later)
	require.NoError(t, err)
	assert.True(t, p.LastReadAt.Equal(later))
}

func TestMarkReadClampsFutureCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	future := h.clock.Now().Add(time.Hour)
	p, err := h.receipts.MarkRead(ctx, u2.ID, conv.ID, &future)
	require.NoError(t, err)
	assert.True(t, p.LastReadAt.Equal(h.clock.Now()))

	h.clock.Advance(time.Second)
	_, err = h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "after"))
	require.NoError(t, err)
	unread, err := h.receipts.UnreadCount(ctx, u2.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestReceiptTimestampsNeverMoveBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "hello"))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	deliveredAt := h.clock.Now()
	n, err := h.receipts.MarkDelivered(ctx, u2.ID, []int{msg.ID, msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.clock.Advance(time.Second)
	n, err = h.receipts.MarkDelivered(ctx, u2.ID, []int{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(time.Second)
	readAt := h.clock.Now()
	_, err = h.receipts.MarkRead(ctx, u2.ID, conv.ID, nil)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.messages.ListMessages(ctx, u2.ID, conv.ID, 0, nil)
	require.NoError(t, err)

	receipts, err := h.receipts.Receipts(ctx, u1.ID, conv.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].DeliveredAt.Equal(deliveredAt))
	assert.True(t, receipts[0].ReadAt.Equal(readAt))
}

func TestReceiptsArePerRecipient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c := h.user("ana"), h.user("ben"), h.user("cid")
	grp := h.group("crew", a.ID, b.ID, c.ID)

	msg, err := h.messages.Send(ctx, textMessage(grp.ID, a.ID, "hey all"))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.receipts.MarkRead(ctx, b.ID, grp.ID, nil)
	require.NoError(t, err)

	unreadB, err := h.receipts.UnreadCount(ctx, b.ID, grp.ID)
	require.NoError(t, err)
	unreadC, err := h.receipts.UnreadCount(ctx, c.ID, grp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unreadB)
	assert.Equal(t, 1, unreadC)

	receipts, err := h.receipts.Receipts(ctx, a.ID, grp.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, b.ID, receipts[0].UserID)
}

func TestMarkDeliveredSkipsOwnAndForeignMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, u3 := h.user("ana"), h.user("ben"), h.user("cid")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	own, err := h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "mine"))
	require.NoError(t, err)
	other, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "theirs"))
	require.NoError(t, err)

	n, err := h.receipts.MarkDelivered(ctx, u2.ID, []int{own.ID, other.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.receipts.MarkDelivered(ctx, u3.ID, []int{other.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = h.receipts.MarkDelivered(ctx, u2.ID, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestReceiptsVisibleOnlyToSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "hello"))
	require.NoError(t, err)

	_, err = h.receipts.Receipts(ctx, u2.ID, conv.ID, msg.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestUnreadCountRequiresMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, u3 := h.user("ana"), h.user("ben"), h.user("cid")
	conv, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u2.ID)
	require.NoError(t, err)

	_, err = h.receipts.UnreadCount(ctx, u3.ID, conv.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	_, err = h.receipts.UnreadCount(ctx, u3.ID, 12345)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
