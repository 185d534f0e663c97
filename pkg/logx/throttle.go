package logx

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle gates repetitive log lines per key.
//
// Each key gets its own token bucket; Allow reports whether a line for that key
// may be written now. Zero value is not usable, use NewThrottle.
type Throttle struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	lims  map[string]*rate.Limiter
}

// NewThrottle allows perSec lines per key with the given burst.
func NewThrottle(perSec float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{every: rate.Limit(perSec), burst: burst, lims: map[string]*rate.Limiter{}}
}

func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	lim, ok := t.lims[key]
	if !ok {
		lim = rate.NewLimiter(t.every, t.burst)
		t.lims[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
