package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"conversation-service/internal/cache"
	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
	"conversation-service/internal/telemetry"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxReactionLength   = 32
)

// SendInput is a new message as submitted by its sender.
type SendInput struct {
	ConversationID int
	SenderID       int
	Content        string
	Type           models.MessageType
	Media          *models.Media
	ReplyToID      *int
	Mentions       []int
	ForwardedFrom  *int
}

// MessageService validates, stores and fans out messages.
type MessageService struct {
	deps     Deps
	receipts *ReceiptTracker
	limiter  *SenderLimiter
}

func NewMessageService(deps Deps, receipts *ReceiptTracker, limiter *SenderLimiter) *MessageService {
	return &MessageService{deps: deps, receipts: receipts, limiter: limiter}
}

// Send stores a message and updates the conversation summary in one
// transaction. It is never retried.
func (s *MessageService) Send(ctx context.Context, in SendInput) (models.Message, error) {
	ctx = context.WithoutCancel(ctx)
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if err := s.validateSend(&in); err != nil {
		return models.Message{}, err
	}
	if !s.limiter.Allow(in.SenderID) {
		return models.Message{}, errs.RateLimit("sending too fast, slow down")
	}

	if _, _, err := s.deps.membership(ctx, in.ConversationID, in.SenderID); err != nil {
		return models.Message{}, err
	}
	if in.ReplyToID != nil {
		parent, err := s.deps.Store.Messages.GetMessage(ctx, *in.ReplyToID)
		if err != nil || parent.ConversationID != in.ConversationID {
			return models.Message{}, errs.Validation("reply_to must reference a message in the same conversation")
		}
	}

	msg, err := s.deps.Store.Messages.CreateMessage(ctx, models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		CreatedAt:      s.deps.now(),
		Media:          in.Media,
		ReplyToID:      in.ReplyToID,
		Metadata: models.MessageMetadata{
			Mentions:      uniquePositive(in.Mentions),
			ForwardedFrom: in.ForwardedFrom,
		},
	})
	if err != nil {
		s.deps.Log.Error("store message failed", zap.Int("conversation_id", in.ConversationID), zap.Error(err))
		return models.Message{}, err
	}

	s.afterWrite(ctx, realtime.MessageCreated, msg, in.SenderID)
	return msg, nil
}

func (s *MessageService) validateSend(in *SendInput) error {
	if in.ConversationID <= 0 {
		return errs.Validation("conversation id is required")
	}
	in.Content = strings.TrimSpace(in.Content)
	switch in.Type {
	case models.MessageText, models.MessageSystem:
		if in.Content == "" {
			return errs.Validation("content must not be empty")
		}
	case models.MessageImage:
		if in.Media == nil || strings.TrimSpace(in.Media.URL) == "" {
			return errs.Validation("image messages require media")
		}
	default:
		return errs.Validation("unsupported message type")
	}
	if utf8.RuneCountInString(in.Content) > s.deps.Options.MessageMaxLength {
		return errs.Validation("content is too long")
	}
	return nil
}

// Edit replaces the content of the sender's own message within the edit window.
func (s *MessageService) Edit(ctx context.Context, actorID, conversationID, messageID int, content string) (models.Message, error) {
	ctx = context.WithoutCancel(ctx)
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, errs.Validation("content must not be empty")
	}
	if utf8.RuneCountInString(content) > s.deps.Options.MessageMaxLength {
		return models.Message{}, errs.Validation("content is too long")
	}

	msg, _, err := s.ownedMessage(ctx, actorID, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actorID {
		return models.Message{}, errs.Authorization("only the sender can edit a message")
	}
	if msg.Type != models.MessageText {
		return models.Message{}, errs.Validation("only text messages can be edited")
	}
	now := s.deps.now()
	if now.Sub(msg.CreatedAt) > s.deps.Options.EditWindow {
		return models.Message{}, errs.Authorization("edit window has passed")
	}

	updated, err := s.deps.Store.Messages.EditMessage(ctx, messageID, content, now)
	if err != nil {
		return models.Message{}, err
	}
	s.afterWrite(ctx, realtime.MessageUpdated, updated, actorID)
	s.deps.Audit.Emit(ctx, intPtr(actorID), telemetry.AuditPayload{
		Action:         telemetry.ActionMessageEdited,
		ConversationID: conversationID,
		MessageID:      intPtr(messageID),
	})
	return updated, nil
}

// Delete soft-deletes a message. The sender may delete it; outside direct
// conversations a moderator may too.
func (s *MessageService) Delete(ctx context.Context, actorID, conversationID, messageID int) (models.Message, error) {
	ctx = context.WithoutCancel(ctx)
	msg, access, err := s.ownedMessage(ctx, actorID, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actorID {
		// Roles in a direct conversation only record who started it.
		if access.conv.Type == models.ConversationDirect {
			return models.Message{}, errs.Authorization("only the sender can delete a direct message")
		}
		if !access.actor.CanModerate() {
			return models.Message{}, errs.Authorization("only the sender or a moderator can delete a message")
		}
	}

	deleted, err := s.deps.Store.Messages.SoftDelete(ctx, messageID, actorID, s.deps.now())
	if err != nil {
		return models.Message{}, err
	}
	s.afterWrite(ctx, realtime.MessageUpdated, deleted, actorID)
	s.deps.Audit.Emit(ctx, intPtr(actorID), telemetry.AuditPayload{
		Action:         telemetry.ActionMessageDeleted,
		ConversationID: conversationID,
		MessageID:      intPtr(messageID),
	})
	return deleted.Visible(), nil
}

// messageAccess is the actor's standing in the conversation of a message.
type messageAccess struct {
	conv  models.Conversation
	actor models.Participant
}

// ownedMessage loads a live message of conversationID together with the
// actor's standing in that conversation.
func (s *MessageService) ownedMessage(ctx context.Context, actorID, conversationID, messageID int) (models.Message, messageAccess, error) {
	conv, actor, err := s.deps.membership(ctx, conversationID, actorID)
	if err != nil {
		return models.Message{}, messageAccess{}, err
	}
	msg, err := s.deps.Store.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, messageAccess{}, err
	}
	if msg.ConversationID != conversationID || msg.IsDeleted {
		return models.Message{}, messageAccess{}, errs.NotFound("message not found")
	}
	return msg, messageAccess{conv: conv, actor: actor}, nil
}

func (s *MessageService) afterWrite(ctx context.Context, kind realtime.Kind, msg models.Message, actorID int) {
	members, err := s.deps.participantIDs(ctx, msg.ConversationID)
	if err != nil {
		s.deps.Log.Warn("list participants for fan-out failed", zap.Int("conversation_id", msg.ConversationID), zap.Error(err))
		members = []int{actorID}
	}
	s.deps.invalidate(ctx, msg.ConversationID, members...)
	s.deps.notify(kind, msg.ConversationID, intPtr(msg.ID), intPtr(actorID), members)
}

// ListMessages returns up to limit messages older than before, oldest first.
// Fetching marks the returned messages from others as delivered and moves the
// viewer's read cursor to now.
func (s *MessageService) ListMessages(ctx context.Context, viewerID, conversationID, limit int, before *time.Time) ([]models.MessageView, error) {
	switch {
	case limit < 0:
		return nil, errs.Validation("limit must not be negative")
	case limit == 0:
		limit = defaultMessageLimit
	case limit > maxMessageLimit:
		limit = maxMessageLimit
	}
	if _, _, err := s.deps.membership(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	entry := cache.Entry{
		Key:  cache.MessagesKey(conversationID, viewerID, limit, before),
		TTL:  s.deps.Options.MessagesTTL,
		Tags: []string{cache.ConversationTag(conversationID)},
	}
	views, err := cache.ReadThrough(ctx, s.deps.Cache, s.deps.Log, entry, func(ctx context.Context) ([]models.MessageView, error) {
		return s.loadMessages(ctx, viewerID, conversationID, limit, before)
	})
	if err != nil {
		return nil, err
	}

	var delivered []int
	for _, v := range views {
		if v.SenderID != viewerID && !v.IsDeleted {
			delivered = append(delivered, v.ID)
		}
	}
	if len(delivered) > 0 {
		if _, err := s.receipts.MarkDelivered(ctx, viewerID, delivered); err != nil {
			s.deps.Log.Warn("mark delivered on fetch failed", zap.Int("conversation_id", conversationID), zap.Error(err))
		}
	}
	s.receipts.markReadQuietly(ctx, viewerID, conversationID)
	return views, nil
}

func (s *MessageService) loadMessages(ctx context.Context, viewerID, conversationID, limit int, before *time.Time) ([]models.MessageView, error) {
	retry := s.deps.retrier()
	msgs, err := retryValue(ctx, retry, "list_messages", func(ctx context.Context) ([]models.Message, error) {
		return s.deps.Store.Messages.ListMessages(ctx, conversationID, limit, before)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	counts, err := retryValue(ctx, retry, "count_reactions", func(ctx context.Context) ([]models.ReactionCount, error) {
		return s.deps.Store.Reactions.CountReactions(ctx, ids, viewerID)
	})
	if err != nil {
		return nil, err
	}
	byMessage := map[int][]models.ReactionCount{}
	for _, rc := range counts {
		byMessage[rc.MessageID] = append(byMessage[rc.MessageID], rc)
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := models.MessageView{Message: m.Visible()}
		if !m.IsDeleted {
			view.Reactions = byMessage[m.ID]
		}
		views = append(views, view)
	}
	return views, nil
}

// React adds the actor's reaction of the given kind.
func (s *MessageService) React(ctx context.Context, actorID, conversationID, messageID int, kind string) error {
	return s.changeReaction(ctx, actorID, conversationID, messageID, kind, func(ctx context.Context, kind string) error {
		return s.deps.Store.Reactions.AddReaction(ctx, models.Reaction{
			MessageID: messageID,
			UserID:    actorID,
			Kind:      kind,
			CreatedAt: s.deps.now(),
		})
	})
}

// Unreact removes the actor's reaction of the given kind.
func (s *MessageService) Unreact(ctx context.Context, actorID, conversationID, messageID int, kind string) error {
	return s.changeReaction(ctx, actorID, conversationID, messageID, kind, func(ctx context.Context, kind string) error {
		return s.deps.Store.Reactions.RemoveReaction(ctx, messageID, actorID, kind)
	})
}

func (s *MessageService) changeReaction(ctx context.Context, actorID, conversationID, messageID int, kind string, apply func(context.Context, string) error) error {
	ctx = context.WithoutCancel(ctx)
	kind = strings.TrimSpace(kind)
	if kind == "" || utf8.RuneCountInString(kind) > maxReactionLength {
		return errs.Validation("reaction kind must be 1 to 32 characters")
	}
	msg, _, err := s.ownedMessage(ctx, actorID, conversationID, messageID)
	if err != nil {
		return err
	}
	if err := s.deps.retrier().Do(ctx, "change_reaction", func(ctx context.Context) error {
		return apply(ctx, kind)
	}); err != nil {
		return err
	}
	s.deps.invalidate(ctx, conversationID)
	s.deps.notify(realtime.MessageUpdated, conversationID, intPtr(msg.ID), intPtr(actorID), nil)
	return nil
}
