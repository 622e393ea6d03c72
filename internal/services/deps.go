// Package services implements the conversation core: direct resolution,
// membership, message ingestion, receipts and feed assembly.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/cache"
	"conversation-service/internal/realtime"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
)

// Options tunes service behaviour.
type Options struct {
	EditWindow           time.Duration
	FeedConcurrency      int
	MessageMaxLength     int
	SendRatePerSecond    float64
	SendBurst            int
	ConversationsTTL     time.Duration
	MessagesTTL          time.Duration
	UsersTTL             time.Duration
	StaleTTL             time.Duration
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		EditWindow:           15 * time.Minute,
		FeedConcurrency:      8,
		MessageMaxLength:     4000,
		SendRatePerSecond:    5,
		SendBurst:            10,
		ConversationsTTL:     30 * time.Second,
		MessagesTTL:          10 * time.Second,
		UsersTTL:             5 * time.Minute,
		StaleTTL:             10 * time.Minute,
		RetryMaxAttempts:     3,
		RetryInitialInterval: 50 * time.Millisecond,
	}
}

// Deps carries the collaborators shared by every service.
type Deps struct {
	Store   repositories.Store
	Cache   cache.Cache
	Fanout  *realtime.Fanout
	Audit   *telemetry.AuditEmitter
	Log     *zap.Logger
	Now     func() time.Time
	Options Options
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

func (d Deps) retrier() Retrier {
	return NewRetrier(d.Options.RetryMaxAttempts, d.Options.RetryInitialInterval, d.Log)
}

// invalidate drops cache entries for the conversation and every listed user.
// Errors are logged; over-invalidation only costs a re-read.
func (d Deps) invalidate(ctx context.Context, conversationID int, userIDs ...int) {
	tags := make([]string, 0, len(userIDs)+1)
	if conversationID > 0 {
		tags = append(tags, cache.ConversationTag(conversationID))
	}
	for _, id := range userIDs {
		tags = append(tags, cache.UserTag(id))
	}
	if err := d.Cache.Invalidate(context.WithoutCancel(ctx), tags...); err != nil {
		d.Log.Warn("cache invalidation failed", zap.Strings("tags", tags), zap.Error(err))
	}
}

func (d Deps) notify(kind realtime.Kind, conversationID int, messageID, actorID *int, userIDs []int) {
	if d.Fanout == nil {
		return
	}
	d.Fanout.Notify(kind, conversationID, messageID, actorID, userIDs, d.now())
}

func intPtr(v int) *int { return &v }
