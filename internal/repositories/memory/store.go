// Package memory implements every repository interface in process. It keeps the
// same invariants as the Postgres schema: one active direct conversation per
// pair key, one active membership row per user, additive receipts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

type receiptKey struct {
	messageID int
	userID    int
}

type reactionKey struct {
	messageID int
	userID    int
	kind      string
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu            sync.Mutex
	nextID        map[string]int
	users         map[int]models.User
	conversations map[int]models.Conversation
	participants  []models.Participant
	messages      map[int]models.Message
	receipts      map[receiptKey]models.Receipt
	reactions     map[reactionKey]models.Reaction
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		nextID:        map[string]int{},
		users:         map[int]models.User{},
		conversations: map[int]models.Conversation{},
		messages:      map[int]models.Message{},
		receipts:      map[receiptKey]models.Receipt{},
		reactions:     map[reactionKey]models.Reaction{},
	}
}

// Repositories exposes the store through the repository bundle.
func (s *Store) Repositories() repositories.Store {
	return repositories.Store{
		Users:         s,
		Conversations: s,
		Participants:  s,
		Messages:      s,
		Receipts:      s,
		Reactions:     s,
	}
}

func (s *Store) id(table string) int {
	s.nextID[table]++
	return s.nextID[table]
}

// PutUser inserts or replaces a user record. Users are owned elsewhere, so this
// is the only way they appear in the in-memory store.
func (s *Store) PutUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id("users")
	} else if u.ID > s.nextID["users"] {
		s.nextID["users"] = u.ID
	}
	s.users[u.ID] = u
	return u
}

// SeedConversation stores a conversation and its participants without any
// uniqueness checks, the way rows written before the pair constraint look.
func (s *Store) SeedConversation(conv models.Conversation, members ...models.Participant) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.ID = s.id("conversations")
	conv.ParticipantCount = 0
	for _, p := range members {
		p.ID = s.id("participants")
		p.ConversationID = conv.ID
		if p.Active() {
			conv.ParticipantCount++
		}
		s.participants = append(s.participants, p)
	}
	s.conversations[conv.ID] = conv
	return conv
}

func (s *Store) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUserByExternalID(_ context.Context, externalID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (s *Store) GetUsers(_ context.Context, userIDs []int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	seen := map[int]bool{}
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) activeParticipant(conversationID, userID int) (int, bool) {
	for i, p := range s.participants {
		if p.ConversationID == conversationID && p.UserID == userID && p.Active() {
			return i, true
		}
	}
	return 0, false
}

func sortConversations(convs []models.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
}

func (s *Store) FindDirect(_ context.Context, userA, userB int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range s.conversations {
		if c.Type != models.ConversationDirect || !c.IsActive {
			continue
		}
		_, okA := s.activeParticipant(c.ID, userA)
		_, okB := s.activeParticipant(c.ID, userB)
		if okA && okB {
			out = append(out, c)
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *Store) GetDirectByKey(_ context.Context, key string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Type == models.ConversationDirect && c.IsActive && c.DirectKey != nil && *c.DirectKey == key {
			return c, nil
		}
	}
	return models.Conversation{}, repositories.ErrConversationNotFound
}

func (s *Store) CreateDirect(_ context.Context, creatorID, otherID int, at time.Time) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.DirectKey(creatorID, otherID)
	for _, c := range s.conversations {
		if c.Type == models.ConversationDirect && c.IsActive && c.DirectKey != nil && *c.DirectKey == key {
			return models.Conversation{}, repositories.ErrDirectExists
		}
	}
	conv := models.Conversation{
		ID:               s.id("conversations"),
		Type:             models.ConversationDirect,
		DirectKey:        &key,
		CreatedBy:        creatorID,
		CreatedAt:        at,
		UpdatedAt:        at,
		ParticipantCount: 2,
		IsActive:         true,
	}
	s.conversations[conv.ID] = conv
	s.participants = append(s.participants,
		models.Participant{ID: s.id("participants"), ConversationID: conv.ID, UserID: creatorID, Role: models.RoleAdmin, JoinedAt: at},
		models.Participant{ID: s.id("participants"), ConversationID: conv.ID, UserID: otherID, Role: models.RoleMember, JoinedAt: at},
	)
	return conv, nil
}

func (s *Store) GetConversation(_ context.Context, conversationID int) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return c, nil
}

func (s *Store) ListForUser(_ context.Context, userID int, includeArchived bool) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range s.conversations {
		if !c.IsActive || (c.IsArchived && !includeArchived) {
			continue
		}
		if _, ok := s.activeParticipant(c.ID, userID); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) updateActive(conversationID int, fn func(*models.Conversation)) (models.Conversation, error) {
	c, ok := s.conversations[conversationID]
	if !ok || !c.IsActive {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	fn(&c)
	s.conversations[conversationID] = c
	return c, nil
}

func (s *Store) UpdateFlags(_ context.Context, conversationID int, flags models.ConversationFlags, at time.Time) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateActive(conversationID, func(c *models.Conversation) {
		if flags.Pinned != nil {
			c.IsPinned = *flags.Pinned
			switch {
			case !c.IsPinned:
				c.PinnedAt = nil
			case c.PinnedAt == nil:
				pinnedAt := at
				c.PinnedAt = &pinnedAt
			}
		}
		if flags.Archived != nil {
			c.IsArchived = *flags.Archived
		}
		c.UpdatedAt = at
	})
}

func (s *Store) Deactivate(_ context.Context, conversationID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.updateActive(conversationID, func(c *models.Conversation) {
		c.IsActive = false
		c.UpdatedAt = at
	})
	return err
}

func (s *Store) FindDuplicateDirects(_ context.Context) ([]models.DuplicateDirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPair := map[[2]int][]models.Conversation{}
	for _, c := range s.conversations {
		if c.Type != models.ConversationDirect || !c.IsActive {
			continue
		}
		var members []int
		for _, p := range s.participants {
			if p.ConversationID == c.ID && p.Active() {
				members = append(members, p.UserID)
			}
		}
		if len(members) != 2 {
			continue
		}
		sort.Ints(members)
		pair := [2]int{members[0], members[1]}
		byPair[pair] = append(byPair[pair], c)
	}

	var out []models.DuplicateDirect
	for pair, convs := range byPair {
		if len(convs) < 2 {
			continue
		}
		sortConversations(convs)
		dup := models.DuplicateDirect{UserA: pair[0], UserB: pair[1]}
		for _, c := range convs {
			dup.ConversationIDs = append(dup.ConversationIDs, c.ID)
		}
		out = append(out, dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationIDs[0] < out[j].ConversationIDs[0] })
	return out, nil
}
