package memory

import (
	"context"
	"sort"
	"time"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

func (s *Store) GetActive(_ context.Context, conversationID, userID int) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.activeParticipant(conversationID, userID)
	if !ok {
		return models.Participant{}, repositories.ErrParticipantNotFound
	}
	return s.participants[i], nil
}

func (s *Store) ListActive(_ context.Context, conversationID int) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Participant{}
	for _, p := range s.participants {
		if p.ConversationID == conversationID && p.Active() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) AddParticipant(_ context.Context, conversationID, userID int, role models.ParticipantRole, at time.Time) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return models.Participant{}, repositories.ErrConversationNotFound
	}
	if _, ok := s.activeParticipant(conversationID, userID); ok {
		return models.Participant{}, repositories.ErrAlreadyParticipant
	}
	p := models.Participant{ID: s.id("participants"), ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: at}
	s.participants = append(s.participants, p)
	c := s.conversations[conversationID]
	c.ParticipantCount++
	c.UpdatedAt = at
	s.conversations[conversationID] = c
	return p, nil
}

func (s *Store) MarkLeft(_ context.Context, conversationID, userID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.activeParticipant(conversationID, userID)
	if !ok {
		return repositories.ErrParticipantNotFound
	}
	left := at
	s.participants[i].LeftAt = &left
	c := s.conversations[conversationID]
	if c.ParticipantCount > 0 {
		c.ParticipantCount--
	}
	c.UpdatedAt = at
	s.conversations[conversationID] = c
	return nil
}

func (s *Store) SetMuted(_ context.Context, conversationID, userID int, muted bool) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.activeParticipant(conversationID, userID)
	if !ok {
		return models.Participant{}, repositories.ErrParticipantNotFound
	}
	s.participants[i].NotificationSettings.Muted = muted
	return s.participants[i], nil
}

func (s *Store) AdvanceReadCursor(_ context.Context, conversationID, userID int, upto time.Time) (models.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.activeParticipant(conversationID, userID)
	if !ok {
		return models.Participant{}, false, repositories.ErrParticipantNotFound
	}
	p := s.participants[i]
	if p.LastReadAt != nil && !p.LastReadAt.Before(upto) {
		return p, false, nil
	}
	cursor := upto
	s.participants[i].LastReadAt = &cursor
	return s.participants[i], true, nil
}

func (s *Store) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok || !c.IsActive {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	msg.ID = s.id("messages")
	s.messages[msg.ID] = msg

	preview, senderID, at := msg.Preview(), msg.SenderID, msg.CreatedAt
	c.LastMessageAt, c.LastMessagePreview, c.LastMessageSenderID = &at, &preview, &senderID
	c.MessageCount++
	c.UpdatedAt = at
	s.conversations[c.ID] = c
	return msg, nil
}

func (s *Store) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m, nil
}

func (s *Store) conversationMessages(conversationID int) []models.Message {
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Store) ListMessages(_ context.Context, conversationID int, limit int, before *time.Time) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.conversationMessages(conversationID)
	if before != nil {
		filtered := all[:0]
		for _, m := range all {
			if m.CreatedAt.Before(*before) {
				filtered = append(filtered, m)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.Message{}, all...), nil
}

func (s *Store) latestVisible(conversationID int) *models.Message {
	all := s.conversationMessages(conversationID)
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].IsDeleted {
			m := all[i]
			return &m
		}
	}
	return nil
}

func (s *Store) LatestVisible(_ context.Context, conversationID int) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestVisible(conversationID), nil
}

func (s *Store) LatestSenderOtherThan(_ context.Context, conversationID, userID int) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.conversationMessages(conversationID)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].SenderID != userID {
			id := all[i].SenderID
			return &id, nil
		}
	}
	return nil, nil
}

func (s *Store) refreshSummary(conversationID int, at time.Time) {
	c := s.conversations[conversationID]
	c.LastMessageAt, c.LastMessagePreview, c.LastMessageSenderID = nil, nil, nil
	if latest := s.latestVisible(conversationID); latest != nil {
		preview, senderID, lastAt := latest.Preview(), latest.SenderID, latest.CreatedAt
		c.LastMessageAt, c.LastMessagePreview, c.LastMessageSenderID = &lastAt, &preview, &senderID
	}
	c.UpdatedAt = at
	s.conversations[conversationID] = c
}

func (s *Store) EditMessage(_ context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	edited := at
	m.Content, m.EditedAt, m.IsEdited = content, &edited, true
	m.Metadata.EditCount++
	s.messages[messageID] = m
	s.refreshSummary(m.ConversationID, at)
	return m, nil
}

func (s *Store) SoftDelete(_ context.Context, messageID, deletedBy int, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	deletedAt, by := at, deletedBy
	m.IsDeleted, m.DeletedAt, m.DeletedBy = true, &deletedAt, &by
	s.messages[messageID] = m
	s.refreshSummary(m.ConversationID, at)
	return m, nil
}

func (s *Store) CountUnread(_ context.Context, conversationID, userID int, since *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == userID || m.IsDeleted {
			continue
		}
		if since == nil || m.CreatedAt.After(*since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkDelivered(_ context.Context, userID int, messageIDs []int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.SenderID == userID {
			continue
		}
		if _, member := s.activeParticipant(m.ConversationID, userID); !member {
			continue
		}
		key := receiptKey{messageID: id, userID: userID}
		r, exists := s.receipts[key]
		if exists && r.DeliveredAt != nil {
			continue
		}
		delivered := at
		r.MessageID, r.UserID, r.DeliveredAt = id, userID, &delivered
		s.receipts[key] = r
		changed++
	}
	return changed, nil
}

func (s *Store) MarkReadUpTo(_ context.Context, conversationID, userID int, upto, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == userID || m.CreatedAt.After(upto) {
			continue
		}
		key := receiptKey{messageID: m.ID, userID: userID}
		r := s.receipts[key]
		if r.ReadAt != nil && r.DeliveredAt != nil {
			continue
		}
		stamp := at
		r.MessageID, r.UserID = m.ID, userID
		if r.DeliveredAt == nil {
			r.DeliveredAt = &stamp
		}
		if r.ReadAt == nil {
			r.ReadAt = &stamp
		}
		s.receipts[key] = r
		changed++
	}
	return changed, nil
}

func (s *Store) ListReceipts(_ context.Context, messageID int) ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Receipt{}
	for key, r := range s.receipts {
		if key.messageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) AddReaction(_ context.Context, reaction models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID: reaction.MessageID, userID: reaction.UserID, kind: reaction.Kind}
	if _, ok := s.reactions[key]; !ok {
		s.reactions[key] = reaction
	}
	return nil
}

func (s *Store) RemoveReaction(_ context.Context, messageID, userID int, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions, reactionKey{messageID: messageID, userID: userID, kind: kind})
	return nil
}

func (s *Store) CountReactions(_ context.Context, messageIDs []int, viewerID int) ([]models.ReactionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[int]bool{}
	for _, id := range messageIDs {
		wanted[id] = true
	}
	type bucket struct {
		messageID int
		kind      string
	}
	counts := map[bucket]*models.ReactionCount{}
	for key := range s.reactions {
		if !wanted[key.messageID] {
			continue
		}
		b := bucket{messageID: key.messageID, kind: key.kind}
		rc, ok := counts[b]
		if !ok {
			rc = &models.ReactionCount{MessageID: key.messageID, Kind: key.kind}
			counts[b] = rc
		}
		rc.Count++
		if key.userID == viewerID {
			rc.ReactedByMe = true
		}
	}
	out := make([]models.ReactionCount, 0, len(counts))
	for _, rc := range counts {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageID == out[j].MessageID {
			return out[i].Kind < out[j].Kind
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out, nil
}

var (
	_ repositories.UserRepository         = (*Store)(nil)
	_ repositories.ConversationRepository = (*Store)(nil)
	_ repositories.ParticipantRepository  = (*Store)(nil)
	_ repositories.MessageRepository      = (*Store)(nil)
	_ repositories.ReceiptRepository      = (*Store)(nil)
	_ repositories.ReactionRepository     = (*Store)(nil)
)
