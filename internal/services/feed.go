package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"conversation-service/internal/cache"
	"conversation-service/internal/errs"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// FeedAssembler builds conversation lists and detail views.
type FeedAssembler struct {
	deps     Deps
	receipts *ReceiptTracker
}

func NewFeedAssembler(deps Deps, receipts *ReceiptTracker) *FeedAssembler {
	return &FeedAssembler{deps: deps, receipts: receipts}
}

// ListConversations returns the viewer's feed. When the store fails with a
// store error, the last good feed is returned with Stale set.
func (f *FeedAssembler) ListConversations(ctx context.Context, viewerID int, includeArchived bool) ([]models.ConversationSummary, error) {
	key := cache.ConversationsKey(viewerID, includeArchived)
	var cached []models.ConversationSummary
	found, err := f.deps.Cache.Get(ctx, key, &cached)
	switch {
	case err != nil:
		observability.IncCache("error")
		f.deps.Log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case found:
		observability.IncCache("hit")
		return cached, nil
	default:
		observability.IncCache("miss")
	}

	// Every write that changes a feed invalidates the tag of each affected
	// user, so the viewer's tag alone decides whether this load is current.
	viewerTag := cache.UserTag(viewerID)
	stamp, stampErr := f.deps.Cache.Stamp(ctx, viewerTag)
	if stampErr != nil {
		f.deps.Log.Warn("cache stamp failed", zap.String("key", key), zap.Error(stampErr))
	}

	list, err := f.assemble(ctx, viewerID, includeArchived)
	if err != nil {
		if errs.KindOf(err) == errs.KindStore {
			if stale, ok := f.staleFeed(ctx, viewerID, includeArchived); ok {
				f.deps.Log.Warn("serving stale conversation list", zap.Int("user_id", viewerID), zap.Error(err))
				return stale, nil
			}
		}
		return nil, err
	}
	if stampErr != nil {
		return list, nil
	}

	tags := []string{viewerTag}
	for _, s := range list {
		tags = append(tags, cache.ConversationTag(s.ConversationID))
	}
	cache.Store(ctx, f.deps.Cache, f.deps.Log, cache.Entry{Key: key, TTL: f.deps.Options.ConversationsTTL, Tags: tags}, stamp, list)
	cache.Store(ctx, f.deps.Cache, f.deps.Log, cache.Entry{Key: cache.StaleConversationsKey(viewerID, includeArchived), TTL: f.deps.Options.StaleTTL}, stamp, list)
	return list, nil
}

func (f *FeedAssembler) staleFeed(ctx context.Context, viewerID int, includeArchived bool) ([]models.ConversationSummary, bool) {
	var stale []models.ConversationSummary
	found, err := f.deps.Cache.Get(context.WithoutCancel(ctx), cache.StaleConversationsKey(viewerID, includeArchived), &stale)
	if err != nil || !found {
		return nil, false
	}
	for i := range stale {
		stale[i].Stale = true
	}
	return stale, true
}

func (f *FeedAssembler) assemble(ctx context.Context, viewerID int, includeArchived bool) ([]models.ConversationSummary, error) {
	ctx, span := observability.Tracer().Start(ctx, "feed.assemble")
	defer span.End()
	span.SetAttributes(attribute.Int("user_id", viewerID))
	start := time.Now()

	convs, err := retryValue(ctx, f.deps.retrier(), "list_conversations", func(ctx context.Context) ([]models.Conversation, error) {
		return f.deps.Store.Conversations.ListForUser(ctx, viewerID, includeArchived)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	results := make([]*models.ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	limit := f.deps.Options.FeedConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, conv := range convs {
		g.Go(func() error {
			summary, keep, err := f.summarize(gctx, viewerID, conv)
			if err != nil {
				return err
			}
			if keep {
				results[i] = &summary
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	list := make([]models.ConversationSummary, 0, len(results))
	for _, s := range results {
		if s != nil {
			list = append(list, *s)
		}
	}
	SortSummaries(list)
	observability.ObserveFeedAssembly(time.Since(start))
	span.SetAttributes(attribute.Int("conversations", len(list)))
	return list, nil
}

// summarize enriches one conversation for the viewer. keep is false for
// conversations that must not appear in the feed.
func (f *FeedAssembler) summarize(ctx context.Context, viewerID int, conv models.Conversation) (models.ConversationSummary, bool, error) {
	retry := f.deps.retrier()
	participants, err := retryValue(ctx, retry, "list_participants", func(ctx context.Context) ([]models.Participant, error) {
		return f.deps.Store.Participants.ListActive(ctx, conv.ID)
	})
	if err != nil {
		return models.ConversationSummary{}, false, err
	}

	var self *models.Participant
	others := make([]int, 0, len(participants))
	for i := range participants {
		if participants[i].UserID == viewerID {
			self = &participants[i]
			continue
		}
		others = append(others, participants[i].UserID)
	}
	if self == nil {
		// The viewer left between listing and enrichment.
		return models.ConversationSummary{}, false, nil
	}

	latest, err := retryValue(ctx, retry, "latest_message", func(ctx context.Context) (*models.Message, error) {
		return f.deps.Store.Messages.LatestVisible(ctx, conv.ID)
	})
	if err != nil {
		return models.ConversationSummary{}, false, err
	}
	unread, err := f.receipts.countUnread(ctx, *self)
	if err != nil {
		return models.ConversationSummary{}, false, err
	}

	summary := models.ConversationSummary{
		ConversationID:   conv.ID,
		Type:             conv.Type,
		AvatarURL:        conv.AvatarURL,
		UnreadCount:      unread,
		IsPinned:         conv.IsPinned,
		PinnedAt:         conv.PinnedAt,
		IsArchived:       conv.IsArchived,
		Muted:            self.NotificationSettings.Muted,
		ParticipantCount: conv.ParticipantCount,
		CreatedAt:        conv.CreatedAt,
		LastActivityAt:   conv.ActivityAt(),
		LastMessage:      previewOf(conv, latest),
	}
	if latest != nil {
		summary.LastActivityAt = latest.CreatedAt
	}

	if conv.Type == models.ConversationDirect {
		keep, err := f.describeDirect(ctx, viewerID, conv, others, &summary)
		return summary, keep, err
	}
	return summary, true, f.describeGroup(ctx, conv, others, &summary)
}

func previewOf(conv models.Conversation, latest *models.Message) *models.MessagePreview {
	if latest != nil {
		return &models.MessagePreview{
			MessageID: intPtr(latest.ID),
			SenderID:  intPtr(latest.SenderID),
			Text:      latest.Preview(),
			Type:      latest.Type,
			SentAt:    latest.CreatedAt,
		}
	}
	if conv.LastMessagePreview != nil && conv.LastMessageAt != nil {
		return &models.MessagePreview{
			SenderID: conv.LastMessageSenderID,
			Text:     *conv.LastMessagePreview,
			SentAt:   *conv.LastMessageAt,
		}
	}
	return nil
}

func (f *FeedAssembler) describeDirect(ctx context.Context, viewerID int, conv models.Conversation, others []int, summary *models.ConversationSummary) (bool, error) {
	src := CounterpartSources{SummarySenderID: conv.LastMessageSenderID}
	if len(others) > 0 {
		src.ParticipantID = intPtr(others[0])
	}
	users, err := loadUsers(ctx, f.deps, src.ordered(viewerID))
	if err != nil {
		return false, err
	}

	// Message senders are only consulted when the participant does not resolve.
	if !resolved(users, src.ParticipantID) {
		sender, err := retryValue(ctx, f.deps.retrier(), "latest_other_sender", func(ctx context.Context) (*int, error) {
			return f.deps.Store.Messages.LatestSenderOtherThan(ctx, conv.ID, viewerID)
		})
		if err != nil {
			return false, err
		}
		src.SenderID = sender
		if sender != nil && !resolved(users, sender) {
			extra, err := loadUsers(ctx, f.deps, []int{*sender})
			if err != nil {
				return false, err
			}
			for id, u := range extra {
				users[id] = u
			}
		}
	}
	if src.Orphaned(viewerID) {
		return false, nil
	}

	ref := ResolveCounterpart(viewerID, src, users, f.deps.now())
	summary.Counterpart = &ref
	summary.Title = ref.DisplayName
	if summary.AvatarURL == nil {
		summary.AvatarURL = ref.AvatarURL
	}
	return true, nil
}

func resolved(users map[int]models.User, id *int) bool {
	if id == nil {
		return false
	}
	_, ok := users[*id]
	return ok
}

func (f *FeedAssembler) describeGroup(ctx context.Context, conv models.Conversation, others []int, summary *models.ConversationSummary) error {
	if conv.Name != nil && *conv.Name != "" {
		summary.Title = *conv.Name
		return nil
	}
	named := others
	if len(named) > groupTitleNames {
		named = named[:groupTitleNames]
	}
	users, err := loadUsers(ctx, f.deps, named)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(named))
	for _, id := range named {
		if u, ok := users[id]; ok {
			names = append(names, u.DisplayIdentity())
		} else {
			names = append(names, models.PlaceholderName)
		}
	}
	summary.Title = GroupTitle(names, len(others))
	return nil
}

// GetConversation returns the viewer's summary of one conversation plus its
// active participants.
func (f *FeedAssembler) GetConversation(ctx context.Context, viewerID, conversationID int) (models.ConversationDetail, error) {
	conv, _, err := f.deps.membership(ctx, conversationID, viewerID)
	if err != nil {
		return models.ConversationDetail{}, err
	}

	entry := cache.Entry{
		Key:  cache.ConversationDetailKey(conversationID, viewerID),
		TTL:  f.deps.Options.ConversationsTTL,
		Tags: []string{cache.ConversationTag(conversationID), cache.UserTag(viewerID)},
	}
	return cache.ReadThrough(ctx, f.deps.Cache, f.deps.Log, entry, func(ctx context.Context) (models.ConversationDetail, error) {
		summary, keep, err := f.summarize(ctx, viewerID, conv)
		if err != nil {
			return models.ConversationDetail{}, err
		}
		if !keep && conv.Type == models.ConversationDirect {
			ref := models.PlaceholderRef()
			summary.Counterpart = &ref
			summary.Title = ref.DisplayName
		}

		participants, err := retryValue(ctx, f.deps.retrier(), "list_participants", func(ctx context.Context) ([]models.Participant, error) {
			return f.deps.Store.Participants.ListActive(ctx, conversationID)
		})
		if err != nil {
			return models.ConversationDetail{}, err
		}
		ids := make([]int, 0, len(participants))
		for _, p := range participants {
			ids = append(ids, p.UserID)
		}
		users, err := loadUsers(ctx, f.deps, ids)
		if err != nil {
			return models.ConversationDetail{}, err
		}

		now := f.deps.now()
		views := make([]models.ParticipantView, 0, len(participants))
		for _, p := range participants {
			ref := models.PlaceholderRef()
			ref.ID = p.UserID
			if u, ok := users[p.UserID]; ok {
				ref = u.Ref(now)
			}
			views = append(views, models.ParticipantView{
				User:     ref,
				Role:     p.Role,
				JoinedAt: p.JoinedAt,
				Muted:    p.NotificationSettings.Muted,
			})
		}
		return models.ConversationDetail{Summary: summary, Participants: views}, nil
	})
}
