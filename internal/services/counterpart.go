package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"conversation-service/internal/models"
)

// CounterpartSources are the candidate user ids for the other side of a
// direct conversation, in priority order.
type CounterpartSources struct {
	// ParticipantID is the other active participant.
	ParticipantID *int
	// SenderID is the latest sender other than the viewer.
	SenderID *int
	// SummarySenderID is the denormalized last_message_sender_id.
	SummarySenderID *int
}

func (s CounterpartSources) ordered(viewerID int) []int {
	var out []int
	for _, id := range []*int{s.ParticipantID, s.SenderID, s.SummarySenderID} {
		if id != nil && *id != viewerID {
			out = append(out, *id)
		}
	}
	return out
}

// Orphaned reports whether nobody but the viewer ever took part: no other
// active participant and no message from anyone else.
func (s CounterpartSources) Orphaned(viewerID int) bool {
	return len(s.ordered(viewerID)) == 0
}

// ResolveCounterpart walks the sources in order and returns the first one
// whose user record was loaded. When none resolves, a placeholder is returned
// carrying the highest-priority id, if any.
func ResolveCounterpart(viewerID int, src CounterpartSources, users map[int]models.User, now time.Time) models.UserRef {
	candidates := src.ordered(viewerID)
	for _, id := range candidates {
		if u, ok := users[id]; ok {
			return u.Ref(now)
		}
	}
	ref := models.PlaceholderRef()
	if len(candidates) > 0 {
		ref.ID = candidates[0]
	}
	return ref
}

const groupTitleNames = 3

// GroupTitle names an unnamed conversation after up to three members and an
// overflow count of the rest.
func GroupTitle(names []string, total int) string {
	if len(names) > groupTitleNames {
		names = names[:groupTitleNames]
	}
	if len(names) == 0 {
		return "Group"
	}
	title := strings.Join(names, ", ")
	if rest := total - len(names); rest > 0 {
		title += fmt.Sprintf(" +%d", rest)
	}
	return title
}

// SortSummaries orders a feed: pinned first by pin time, then the rest by last
// activity, newest first. Ids break ties.
func SortSummaries(list []models.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.IsPinned {
			switch {
			case a.PinnedAt != nil && b.PinnedAt != nil && !a.PinnedAt.Equal(*b.PinnedAt):
				return a.PinnedAt.Before(*b.PinnedAt)
			case a.PinnedAt != nil && b.PinnedAt == nil:
				return true
			case a.PinnedAt == nil && b.PinnedAt != nil:
				return false
			}
			return a.ConversationID < b.ConversationID
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ConversationID > b.ConversationID
	})
}
