package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an identity's limiter survives without calls.
// It is longer than a full bucket refill, so a dropped limiter and a fresh one
// behave the same.
const limiterIdleTTL = 10 * time.Minute

// aiLimiter throttles generation calls per identity. A non-positive rate
// disables it.
type aiLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*identityLimiter
	lastSweep time.Time
	now       func() time.Time
}

type identityLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAILimiter(perMinute int) *aiLimiter {
	return &aiLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*identityLimiter),
		now:       time.Now,
	}
}

func (l *aiLimiter) Allow(identity string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	entry, ok := l.limiters[identity]
	if !ok {
		entry = &identityLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
		}
		l.limiters[identity] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// sweepLocked drops idle limiters, at most once per idle period.
func (l *aiLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for identity, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(l.limiters, identity)
		}
	}
}

func (l *aiLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
