package clock

import (
	"sync"
	"time"
)

// DefaultValidAfter is the earliest wall-clock time System accepts as set.
// Devices without a battery-backed RTC boot near 1970.
var DefaultValidAfter = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// System reads the host clock and trusts it once it is later than ValidAfter.
type System struct {
	ValidAfter time.Time
	now        func() time.Time
}

func (s System) Now() (time.Time, bool) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	t := now()
	after := s.ValidAfter
	if after.IsZero() {
		after = DefaultValidAfter
	}
	return t, t.After(after)
}

// Manual is a settable source. It reports untrusted until Set is called.
type Manual struct {
	mu  sync.Mutex
	t   time.Time
	set bool
}

// NewManual returns an unset manual source.
func NewManual() *Manual { return &Manual{} }

func (m *Manual) Now() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, m.set
}

// Set marks the source trusted at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.set = true
	m.mu.Unlock()
}

// Advance moves a set source forward (or backward, for negative d).
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}
