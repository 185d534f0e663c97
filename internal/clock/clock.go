// Package clock provides the scheduler's notion of "now".
//
// Until an authoritative source (network time, RTC) reports a valid time the
// clock runs from the firmware build timestamp plus uptime, so readings never
// move backward even without a trusted source. Once trusted, readings come
// from the source and are clamped forward if it ever steps back.
package clock

import (
	"sync"
	"time"

	logx "dyncron/pkg/logx"
)

// Source is an authoritative wall clock. ok is false until the source has been
// set from something reliable.
type Source interface {
	Now() (t time.Time, ok bool)
}

// Reading is one observation of the clock.
type Reading struct {
	Epoch   int64
	Trusted bool

	// Anomaly is set when the source reported a time earlier than the
	// previous reading; Epoch was clamped and Clamped holds the regression.
	Anomaly bool
	Clamped time.Duration
}

// Time returns the reading as a UTC time.
func (r Reading) Time() time.Time { return time.Unix(r.Epoch, 0).UTC() }

type Option func(*Clock)

// WithUptime replaces the monotonic uptime counter.
func WithUptime(fn func() time.Duration) Option {
	return func(c *Clock) { c.uptime = fn }
}

func WithLogger(log logx.Logger) Option {
	return func(c *Clock) { c.log = log }
}

// Clock combines the build-time fallback with an authoritative source.
// It is safe for concurrent use.
type Clock struct {
	build  int64
	src    Source
	uptime func() time.Duration
	log    logx.Logger
	warn   *logx.Throttle

	mu        sync.Mutex
	last      int64
	trusted   bool
	anomalies uint64
}

// New returns a clock that falls back to build (unix seconds) advanced by
// uptime while src is not trusted.
func New(build int64, src Source, opts ...Option) *Clock {
	start := time.Now()
	c := &Clock{
		build:  build,
		src:    src,
		uptime: func() time.Duration { return time.Since(start) },
		log:    logx.Nop(),
		warn:   logx.NewThrottle(1.0/60, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now returns the current reading.
func (c *Clock) Now() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		now time.Time
		ok  bool
	)
	if c.src != nil {
		now, ok = c.src.Now()
	}
	if ok {
		c.trusted = true
	}

	if !c.trusted {
		epoch := c.build + int64(c.uptime()/time.Second)
		if epoch > c.last {
			c.last = epoch
		}
		return Reading{Epoch: c.last}
	}

	// Trusted clocks stay trusted; a source that drops its sync flag keeps
	// being read, clamped like any other regression.
	epoch := now.Unix()
	if now.IsZero() {
		epoch = c.last
	}
	r := Reading{Epoch: epoch, Trusted: true}
	if epoch < c.last {
		r.Anomaly = true
		r.Clamped = time.Duration(c.last-epoch) * time.Second
		r.Epoch = c.last
		c.anomalies++
		if c.warn.Allow("regress") {
			c.log.Warn("clock moved backward; clamping",
				logx.Epoch("source", epoch), logx.Epoch("kept", c.last),
				logx.Duration("regression", r.Clamped), logx.Uint64("anomalies", c.anomalies))
		}
	}
	c.last = r.Epoch
	return r
}

// Trusted reports whether an authoritative time has been observed.
func (c *Clock) Trusted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trusted
}

// Anomalies returns the number of clamped readings so far.
func (c *Clock) Anomalies() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anomalies
}
