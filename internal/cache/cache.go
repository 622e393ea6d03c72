// Package cache holds the short-lived read cache in front of the store.
// Entries carry tags; writes invalidate by tag instead of scanning keys.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/observability"
)

// Stamp holds the invalidation generation of each tag at the time it was taken.
type Stamp map[string]int64

// Cache stores JSON-encoded values with a TTL and a set of tags.
type Cache interface {
	// Get decodes the value under key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	// Stamp reads the current generation of every tag.
	Stamp(ctx context.Context, tags ...string) (Stamp, error)
	// SetIfCurrent stores value only if no tag in stamp was invalidated since
	// the stamp was taken, and reports whether it stored.
	SetIfCurrent(ctx context.Context, key string, value any, ttl time.Duration, stamp Stamp, tags ...string) (bool, error)
	// Invalidate drops every entry carrying any of the tags and bumps their
	// generations.
	Invalidate(ctx context.Context, tags ...string) error
}

func ConversationTag(conversationID int) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

func UserTag(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

func ConversationsKey(userID int, includeArchived bool) string {
	return fmt.Sprintf("conversations:%d:%t", userID, includeArchived)
}

// StaleConversationsKey holds the last good feed for degraded reads. It carries
// no tags, so writes never drop it.
func StaleConversationsKey(userID int, includeArchived bool) string {
	return fmt.Sprintf("stale:conversations:%d:%t", userID, includeArchived)
}

func ConversationDetailKey(conversationID, viewerID int) string {
	return fmt.Sprintf("conversation:%d:detail:%d", conversationID, viewerID)
}

func MessagesKey(conversationID, viewerID, limit int, before *time.Time) string {
	cursor := "head"
	if before != nil {
		cursor = before.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("messages:%d:%d:%d:%s", conversationID, viewerID, limit, cursor)
}

func SubjectKey(subject string) string {
	return "users:subject:" + subject
}

// Entry describes where a read-through value lives.
type Entry struct {
	Key  string
	TTL  time.Duration
	Tags []string
}

// ReadThrough returns the cached value for e.Key or loads and stores it.
// Cache failures are logged and fall through to load. A load that overlaps an
// invalidation of any of e.Tags is returned but not stored.
func ReadThrough[T any](ctx context.Context, c Cache, log *zap.Logger, e Entry, load func(context.Context) (T, error)) (T, error) {
	var cached T
	found, err := c.Get(ctx, e.Key, &cached)
	switch {
	case err != nil:
		observability.IncCache("error")
		log.Warn("cache get failed", zap.String("key", e.Key), zap.Error(err))
	case found:
		observability.IncCache("hit")
		return cached, nil
	default:
		observability.IncCache("miss")
	}

	stamp, stampErr := c.Stamp(ctx, e.Tags...)
	if stampErr != nil {
		log.Warn("cache stamp failed", zap.String("key", e.Key), zap.Error(stampErr))
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if stampErr == nil {
		Store(ctx, c, log, e, stamp, value)
	}
	return value, nil
}

// Store writes value under e when stamp is still current. Failures and
// superseded writes are logged, never returned.
func Store(ctx context.Context, c Cache, log *zap.Logger, e Entry, stamp Stamp, value any) {
	stored, err := c.SetIfCurrent(ctx, e.Key, value, e.TTL, stamp, e.Tags...)
	switch {
	case err != nil:
		log.Warn("cache set failed", zap.String("key", e.Key), zap.Error(err))
	case !stored:
		observability.IncCache("superseded")
		log.Debug("cache write superseded by invalidation", zap.String("key", e.Key))
	}
}
