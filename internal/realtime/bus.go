// Package realtime delivers change notifications to subscribers of
// conversation:{id} and user:{id} channels.
package realtime

import (
	"sync"

	"go.uber.org/zap"

	"conversation-service/internal/observability"
)

// Subscription receives events for the channels it was opened with.
type Subscription struct {
	C <-chan Event

	ch       chan Event
	bus      *Bus
	channels []string
	once     sync.Once
}

// Close detaches the subscription from the bus. The channel C is closed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Bus is an in-process pub/sub hub. Publish never blocks: a subscriber with a
// full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger
}

// NewBus constructs a Bus with per-subscriber buffers of the given size.
func NewBus(buffer int, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 32
	}
	return &Bus{subs: map[string]map[*Subscription]struct{}{}, buffer: buffer, log: log}
}

// Subscribe opens one subscription over every listed channel.
func (b *Bus) Subscribe(channels ...string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, channels: channels}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range channels {
		if b.subs[key] == nil {
			b.subs[key] = map[*Subscription]struct{}{}
		}
		b.subs[key][sub] = struct{}{}
	}
	return sub
}

// Drop detaches the subscription from one channel and reports whether it was
// listening there. Other channels keep delivering.
func (s *Subscription) Drop(channel string) bool {
	return s.bus.drop(s, channel)
}

func (b *Bus) drop(sub *Subscription, channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	if _, ok := subs[sub]; !ok {
		return false
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
	kept := sub.channels[:0:0]
	for _, key := range sub.channels {
		if key != channel {
			kept = append(kept, key)
		}
	}
	sub.channels = kept
	return true
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range sub.channels {
		if subs := b.subs[key]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subs, key)
			}
		}
	}
	close(sub.ch)
}

// Publish delivers e to local subscribers of e.Channel.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[e.Channel] {
		select {
		case sub.ch <- e:
			observability.IncFanout(string(e.Kind), "delivered")
		default:
			observability.IncFanout(string(e.Kind), "dropped")
			b.log.Warn("realtime subscriber buffer full, dropping event",
				zap.String("channel", e.Channel), zap.String("kind", string(e.Kind)))
		}
	}
}

// Subscribers reports how many subscriptions listen on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
