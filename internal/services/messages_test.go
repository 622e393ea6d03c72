package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
)

func directPair(t *testing.T, h *harness) (models.User, models.User, models.Conversation) {
	t.Helper()
	u1, u2 := h.user("ana"), h.user("ben")
	conv, _, err := h.resolver.ResolveDirect(context.Background(), u1.ID, u2.ID)
	require.NoError(t, err)
	return u1, u2, conv
}

func TestSendUpdatesSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, _, conv := directPair(t, h)

	h.clock.Advance(time.Second)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "  hello there  "))
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Content)
	assert.Equal(t, models.MessageText, msg.Type)

	stored, err := h.deps.Store.Conversations.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessagePreview)
	assert.Equal(t, "hello there", *stored.LastMessagePreview)
	assert.Equal(t, u1.ID, *stored.LastMessageSenderID)
	assert.True(t, stored.LastMessageAt.Equal(msg.CreatedAt))
	assert.Equal(t, 1, stored.MessageCount)
}

func TestSendRequiresActiveParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, conv := directPair(t, h)
	outsider := h.user("eve")

	_, err := h.messages.Send(ctx, textMessage(conv.ID, outsider.ID, "let me in"))
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	_, err = h.messages.Send(ctx, textMessage(9999, outsider.ID, "nowhere"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSendValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, _, conv := directPair(t, h)

	cases := map[string]SendInput{
		"empty":        textMessage(conv.ID, u1.ID, "   "),
		"too long":     textMessage(conv.ID, u1.ID, strings.Repeat("x", h.deps.Options.MessageMaxLength+1)),
		"image no url": {ConversationID: conv.ID, SenderID: u1.ID, Type: models.MessageImage},
		"deleted type": {ConversationID: conv.ID, SenderID: u1.ID, Type: models.MessageDeleted, Content: "x"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.messages.Send(ctx, in)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestSendImageWithoutCaption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, _, conv := directPair(t, h)

	_, err := h.messages.Send(ctx, SendInput{
		ConversationID: conv.ID,
		SenderID:       u1.ID,
		Type:           models.MessageImage,
		Media:          &models.Media{URL: "https://cdn.example.com/a.jpg", Type: "image/jpeg"},
	})
	require.NoError(t, err)

	stored, err := h.deps.Store.Conversations.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Photo", *stored.LastMessagePreview)
}

func TestSendReplyMustStayInConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)
	u3 := h.user("cid")
	other, _, err := h.resolver.ResolveDirect(ctx, u1.ID, u3.ID)
	require.NoError(t, err)

	foreign, err := h.messages.Send(ctx, textMessage(other.ID, u3.ID, "elsewhere"))
	require.NoError(t, err)
	parent, err := h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "question?"))
	require.NoError(t, err)

	in := textMessage(conv.ID, u1.ID, "answer")
	in.ReplyToID = &foreign.ID
	_, err = h.messages.Send(ctx, in)
	assert.ErrorIs(t, err, errs.ErrValidation)

	in.ReplyToID = &parent.ID
	in.Mentions = []int{u2.ID, u2.ID, -1}
	reply, err := h.messages.Send(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *reply.ReplyToID)
	assert.Equal(t, []int{u2.ID}, reply.Metadata.Mentions)
}

func TestSendIsRateLimitedPerSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)
	h.messages = NewMessageService(h.deps, h.receipts, NewSenderLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		_, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "spam"))
		require.NoError(t, err)
	}
	_, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "spam"))
	assert.ErrorIs(t, err, errs.ErrRateLimit)

	_, err = h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "not me"))
	assert.NoError(t, err)
}

func TestSendFansOutToConversationAndParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	convSub := h.bus.Subscribe(realtime.ConversationChannel(conv.ID))
	defer convSub.Close()
	userSub := h.bus.Subscribe(realtime.UserChannel(u2.ID))
	defer userSub.Close()

	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "ping"))
	require.NoError(t, err)

	for _, sub := range []*realtime.Subscription{convSub, userSub} {
		e := <-sub.C
		assert.Equal(t, realtime.MessageCreated, e.Kind)
		assert.Equal(t, conv.ID, e.ConversationID)
		require.NotNil(t, e.MessageID)
		assert.Equal(t, msg.ID, *e.MessageID)
	}
}

func TestEditWithinWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "helo"))
	require.NoError(t, err)

	_, err = h.messages.Edit(ctx, u2.ID, conv.ID, msg.ID, "hijack")
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	h.clock.Advance(time.Minute)
	edited, err := h.messages.Edit(ctx, u1.ID, conv.ID, msg.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, 1, edited.Metadata.EditCount)
	assert.Equal(t, "hello", edited.Content)

	stored, err := h.deps.Store.Conversations.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *stored.LastMessagePreview)

	h.clock.Advance(h.deps.Options.EditWindow)
	_, err = h.messages.Edit(ctx, u1.ID, conv.ID, msg.ID, "too late")
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestDeleteOnlyMessageClearsPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	h.clock.Advance(time.Second)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "secret"))
	require.NoError(t, err)

	before, err := h.feed.ListConversations(ctx, u2.ID, false)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.NotNil(t, before[0].LastMessage)
	assert.Equal(t, "secret", before[0].LastMessage.Text)

	_, err = h.messages.Delete(ctx, u1.ID, conv.ID, msg.ID)
	require.NoError(t, err)

	after, err := h.feed.ListConversations(ctx, u2.ID, false)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Nil(t, after[0].LastMessage)
	assert.True(t, after[0].LastActivityAt.Equal(conv.CreatedAt))
}

func TestDeleteLatestFallsBackToPreviousMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	h.clock.Advance(time.Second)
	first, err := h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "first"))
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	second, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "second"))
	require.NoError(t, err)

	_, err = h.messages.Delete(ctx, u1.ID, conv.ID, second.ID)
	require.NoError(t, err)

	list, err := h.feed.ListConversations(ctx, u1.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "first", list[0].LastMessage.Text)
	assert.Equal(t, first.ID, *list[0].LastMessage.MessageID)
	assert.True(t, list[0].LastActivityAt.Equal(first.CreatedAt))
}

func TestDeletePermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c := h.user("ana"), h.user("ben"), h.user("cid")
	grp := h.group("crew", a.ID, b.ID, c.ID)

	msg, err := h.messages.Send(ctx, textMessage(grp.ID, b.ID, "rude"))
	require.NoError(t, err)

	_, err = h.messages.Delete(ctx, c.ID, grp.ID, msg.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	deleted, err := h.messages.Delete(ctx, a.ID, grp.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedPlaceholder, deleted.Content)

	_, err = h.messages.Delete(ctx, a.ID, grp.ID, msg.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	stored, err := h.deps.Store.Messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "rude", stored.Content, "content is retained")
	assert.Equal(t, a.ID, *stored.DeletedBy)
}

func TestDirectCreatorCannotDeleteCounterpartMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	theirs, err := h.messages.Send(ctx, textMessage(conv.ID, u2.ID, "mine"))
	require.NoError(t, err)

	_, err = h.messages.Delete(ctx, u1.ID, conv.ID, theirs.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	deleted, err := h.messages.Delete(ctx, u2.ID, conv.ID, theirs.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
}

func TestListMessagesHidesDeletedContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	keep, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "keep"))
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)
	gone, err := h.messages.Send(ctx, SendInput{
		ConversationID: conv.ID,
		SenderID:       u1.ID,
		Content:        "caption",
		Type:           models.MessageImage,
		Media:          &models.Media{URL: "https://cdn.example.com/b.jpg"},
	})
	require.NoError(t, err)
	_, err = h.messages.Delete(ctx, u1.ID, conv.ID, gone.ID)
	require.NoError(t, err)

	views, err := h.messages.ListMessages(ctx, u2.ID, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, keep.ID, views[0].ID)
	assert.Equal(t, models.DeletedPlaceholder, views[1].Content)
	assert.Equal(t, models.MessageDeleted, views[1].Type)
	assert.Nil(t, views[1].Media)
}

func TestListMessagesOrderAndPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)

	var sent []models.Message
	for _, text := range []string{"a", "b", "c", "d"} {
		h.clock.Advance(time.Second)
		m, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, text))
		require.NoError(t, err)
		sent = append(sent, m)
	}

	latest, err := h.messages.ListMessages(ctx, u2.ID, conv.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, []int{sent[2].ID, sent[3].ID}, []int{latest[0].ID, latest[1].ID})

	before := sent[2].CreatedAt
	older, err := h.messages.ListMessages(ctx, u2.ID, conv.ID, 2, &before)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, []int{sent[0].ID, sent[1].ID}, []int{older[0].ID, older[1].ID})

	_, err = h.messages.ListMessages(ctx, u2.ID, conv.ID, -1, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestReactionsAreCountedPerViewer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1, u2, conv := directPair(t, h)
	msg, err := h.messages.Send(ctx, textMessage(conv.ID, u1.ID, "nice"))
	require.NoError(t, err)

	require.NoError(t, h.messages.React(ctx, u2.ID, conv.ID, msg.ID, "👍"))
	require.NoError(t, h.messages.React(ctx, u2.ID, conv.ID, msg.ID, "👍"))
	require.NoError(t, h.messages.React(ctx, u1.ID, conv.ID, msg.ID, "👍"))

	views, err := h.messages.ListMessages(ctx, u2.ID, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Reactions, 1)
	assert.Equal(t, 2, views[0].Reactions[0].Count)
	assert.True(t, views[0].Reactions[0].ReactedByMe)

	require.NoError(t, h.messages.Unreact(ctx, u2.ID, conv.ID, msg.ID, "👍"))
	views, err = h.messages.ListMessages(ctx, u2.ID, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, views[0].Reactions, 1)
	assert.Equal(t, 1, views[0].Reactions[0].Count)
	assert.False(t, views[0].Reactions[0].ReactedByMe)

	assert.ErrorIs(t, h.messages.React(ctx, u2.ID, conv.ID, msg.ID, ""), errs.ErrValidation)
}
