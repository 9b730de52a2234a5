package supervisor

import (
	"time"

	"golang.org/x/time/rate"
)

// logWarnEvery bounds repeated operator warnings for the same key.
const logWarnEvery = time.Minute

// logThrottle rate limits operator log lines per key. Decision records are
// never throttled. Only the tick goroutine touches it.
type logThrottle struct {
	limiters map[string]*rate.Limiter
	every    rate.Limit
	now      func() time.Time
}

func newLogThrottle(every time.Duration, now func() time.Time) *logThrottle {
	return &logThrottle{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(every),
		now:      now,
	}
}

// Allow reports whether a line for key may be logged now.
func (t *logThrottle) Allow(key string) bool {
	limiter, exists := t.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(t.every, 1)
		t.limiters[key] = limiter
	}
	return limiter.AllowN(t.now(), 1)
}

// Forget drops the limiter for key.
func (t *logThrottle) Forget(key string) {
	delete(t.limiters, key)
}

// Len returns the number of tracked keys.
func (t *logThrottle) Len() int {
	return len(t.limiters)
}
