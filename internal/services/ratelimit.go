package services

import (
	"sync"

	"golang.org/x/time/rate"
)

// SenderLimiter keeps one token bucket per sender.
type SenderLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int]*rate.Limiter
}

// NewSenderLimiter returns a limiter allowing perSecond sends with burst. A
// non-positive rate disables limiting.
func NewSenderLimiter(perSecond float64, burst int) *SenderLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{limit: rate.Limit(perSecond), burst: burst, limiters: map[int]*rate.Limiter{}}
}

func (l *SenderLimiter) Allow(senderID int) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[senderID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
