package services

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/cache"
	"conversation-service/internal/models"
	"conversation-service/internal/realtime"
	"conversation-service/internal/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store      *memory.Store
	cache      *cache.Memory
	bus        *realtime.Bus
	clock      *testClock
	deps       Deps
	resolver   *ConversationResolver
	membership *MembershipManager
	messages   *MessageService
	receipts   *ReceiptTracker
	feed       *FeedAssembler
	reconciler *Reconciler
	identity   *IdentityResolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New()
	mem := cache.NewMemory().WithClock(clock.Now)
	bus := realtime.NewBus(64, zap.NewNop())

	opts := DefaultOptions()
	opts.RetryInitialInterval = time.Millisecond
	opts.SendRatePerSecond = 0

	deps := Deps{
		Store:   store.Repositories(),
		Cache:   mem,
		Fanout:  realtime.NewFanout(bus, nil, zap.NewNop()),
		Log:     zap.NewNop(),
		Now:     clock.Now,
		Options: opts,
	}
	return newHarnessWith(store, mem, bus, clock, deps)
}

func newHarnessWith(store *memory.Store, mem *cache.Memory, bus *realtime.Bus, clock *testClock, deps Deps) *harness {
	receipts := NewReceiptTracker(deps)
	return &harness{
		store:      store,
		cache:      mem,
		bus:        bus,
		clock:      clock,
		deps:       deps,
		resolver:   NewConversationResolver(deps),
		membership: NewMembershipManager(deps),
		messages:   NewMessageService(deps, receipts, NewSenderLimiter(deps.Options.SendRatePerSecond, deps.Options.SendBurst)),
		receipts:   receipts,
		feed:       NewFeedAssembler(deps, receipts),
		reconciler: NewReconciler(deps),
		identity:   NewIdentityResolver(deps),
	}
}

func (h *harness) user(username string) models.User {
	return h.store.PutUser(models.User{ExternalID: "ext-" + username, Username: username, Email: username + "@example.com"})
}

func (h *harness) group(name string, admin int, members ...int) models.Conversation {
	now := h.clock.Now()
	conv := models.Conversation{Type: models.ConversationGroup, CreatedBy: admin, CreatedAt: now, UpdatedAt: now, IsActive: true}
	if name != "" {
		conv.Name = &name
	}
	ps := []models.Participant{{UserID: admin, Role: models.RoleAdmin, JoinedAt: now}}
	for _, id := range members {
		ps = append(ps, models.Participant{UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	return h.store.SeedConversation(conv, ps...)
}

func textMessage(conversationID, senderID int, content string) SendInput {
	return SendInput{ConversationID: conversationID, SenderID: senderID, Content: content}
}
