package collector

import (
	"sync"

	"golang.org/x/time/rate"
)

// projectLimiter keeps one token bucket per project key.
type projectLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newProjectLimiter returns nil when limiting is disabled.
func newProjectLimiter(perSecond float64, burst int) *projectLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &projectLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the project may submit one more payload now.
func (l *projectLimiter) Allow(projectKey string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[projectKey]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[projectKey] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
