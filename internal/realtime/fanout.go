package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conversation-service/internal/observability"
)

// Forwarder ships events to other instances.
type Forwarder interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Fanout publishes to the local bus and forwards every event to the broker so
// subscribers on other instances see it too.
type Fanout struct {
	bus       *Bus
	forwarder Forwarder
	origin    string
	queue     chan Event
	log       *zap.Logger
}

// NewFanout constructs a Fanout. forwarder may be nil for a single instance.
func NewFanout(bus *Bus, forwarder Forwarder, log *zap.Logger) *Fanout {
	f := &Fanout{bus: bus, forwarder: forwarder, origin: uuid.NewString(), log: log}
	if forwarder != nil {
		f.queue = make(chan Event, 1024)
	}
	return f
}

// Origin identifies this instance on forwarded events.
func (f *Fanout) Origin() string {
	return f.origin
}

// Bus returns the local bus.
func (f *Fanout) Bus() *Bus {
	return f.bus
}

// Publish delivers e locally and queues it for the broker. It never blocks.
func (f *Fanout) Publish(e Event) {
	e.Origin = f.origin
	f.bus.Publish(e)
	if f.queue == nil {
		return
	}
	select {
	case f.queue <- e:
	default:
		observability.IncFanout(string(e.Kind), "forward_dropped")
		f.log.Warn("realtime forward queue full, dropping event", zap.String("channel", e.Channel))
	}
}

// Notify publishes one event kind on the conversation channel and on the
// personal channel of every listed user.
func (f *Fanout) Notify(kind Kind, conversationID int, messageID *int, actorID *int, userIDs []int, at time.Time) {
	f.Publish(Event{
		Kind:           kind,
		Channel:        ConversationChannel(conversationID),
		ConversationID: conversationID,
		UserID:         actorID,
		MessageID:      messageID,
		OccurredAt:     at,
	})
	for _, userID := range userIDs {
		f.Publish(Event{
			Kind:           kind,
			Channel:        UserChannel(userID),
			ConversationID: conversationID,
			UserID:         actorID,
			MessageID:      messageID,
			OccurredAt:     at,
		})
	}
}

// Run drains the forward queue until ctx is done.
func (f *Fanout) Run(ctx context.Context) {
	if f.queue == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.queue:
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := f.forwarder.Publish(pubCtx, RoutingKey(e.Channel), e); err != nil {
				observability.IncFanout(string(e.Kind), "forward_failed")
				f.log.Warn("realtime forward failed", zap.String("channel", e.Channel), zap.Error(err))
			} else {
				observability.IncFanout(string(e.Kind), "forwarded")
			}
			cancel()
		}
	}
}

// Relay decodes an event received from the broker and delivers it locally
// unless this instance produced it.
func (f *Fanout) Relay(body []byte) error {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return err
	}
	if e.Origin == f.origin {
		return nil
	}
	f.bus.Publish(e)
	return nil
}
