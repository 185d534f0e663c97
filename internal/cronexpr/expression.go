package cronexpr

import (
	"time"
)

// Horizon bounds NextAfter and PrevAtOrBefore searches.
const Horizon = 4 // years

// spec is one parsed alternative of an expression.
type spec struct {
	second, minute, hour, dom, month, dow field
}

// Expression is an immutable parsed cron expression. All evaluation is in UTC
// on unix epoch seconds.
type Expression struct {
	text  string
	specs []spec
}

// String returns the normalized source text.
func (e *Expression) String() string { return e.text }

// Matches reports whether the given second is an activation time.
func (e *Expression) Matches(epoch int64) bool {
	t := time.Unix(epoch, 0).UTC()
	for i := range e.specs {
		if e.specs[i].matches(t) {
			return true
		}
	}
	return false
}

// NextAfter returns the earliest activation strictly after epoch.
func (e *Expression) NextAfter(epoch int64) (int64, error) {
	from := time.Unix(epoch, 0).UTC()
	var best time.Time
	for i := range e.specs {
		t, ok := e.specs[i].next(from)
		if ok && (best.IsZero() || t.Before(best)) {
			best = t
		}
	}
	if best.IsZero() {
		return 0, ErrUnsatisfiable
	}
	return best.Unix(), nil
}

// PrevAtOrBefore returns the latest activation at or before epoch.
func (e *Expression) PrevAtOrBefore(epoch int64) (int64, error) {
	from := time.Unix(epoch, 0).UTC()
	var best time.Time
	for i := range e.specs {
		t, ok := e.specs[i].prev(from)
		if ok && (best.IsZero() || t.After(best)) {
			best = t
		}
	}
	if best.IsZero() {
		return 0, ErrUnsatisfiable
	}
	return best.Unix(), nil
}

// NextN returns up to n successive activations after epoch. It stops early
// when the expression runs out of activations within the horizon.
func (e *Expression) NextN(epoch int64, n int) []int64 {
	out := make([]int64, 0, max(n, 0))
	for i := 0; i < n; i++ {
		next, err := e.NextAfter(epoch)
		if err != nil {
			break
		}
		out = append(out, next)
		epoch = next
	}
	return out
}

func (s *spec) matches(t time.Time) bool {
	return s.second.has(t.Second()) &&
		s.minute.has(t.Minute()) &&
		s.hour.has(t.Hour()) &&
		s.month.has(int(t.Month())) &&
		s.dayMatches(t)
}

// dayMatches applies the cron convention: when both day fields are
// restricted a day matches if either does, otherwise both must match (the
// unrestricted one always does).
func (s *spec) dayMatches(t time.Time) bool {
	domMatch := s.dom.has(t.Day())
	dowMatch := s.dow.has(int(t.Weekday()))
	if s.dom.star || s.dow.star {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// next walks forward one field at a time: when a field does not match, it is
// incremented with all lower fields reset, and the walk restarts whenever a
// higher field rolls over.
func (s *spec) next(from time.Time) (time.Time, bool) {
	t := from.Add(time.Second)
	yearLimit := t.Year() + Horizon
	added := false

wrap:
	if t.Year() > yearLimit {
		return time.Time{}, false
	}

	for !s.month.has(int(t.Month())) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		t = t.AddDate(0, 1, 0)
		if t.Month() == time.January {
			goto wrap
		}
	}

	for !s.dayMatches(t) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		t = t.AddDate(0, 0, 1)
		if t.Day() == 1 {
			goto wrap
		}
	}

	for !s.hour.has(t.Hour()) {
		if !added {
			added = true
			t = t.Truncate(time.Hour)
		}
		t = t.Add(time.Hour)
		if t.Hour() == 0 {
			goto wrap
		}
	}

	for !s.minute.has(t.Minute()) {
		if !added {
			added = true
			t = t.Truncate(time.Minute)
		}
		t = t.Add(time.Minute)
		if t.Minute() == 0 {
			goto wrap
		}
	}

	for !s.second.has(t.Second()) {
		added = true
		t = t.Add(time.Second)
		if t.Second() == 0 {
			goto wrap
		}
	}

	return t, true
}

// prev mirrors next: a non-matching field jumps to the last second of the
// previous unit, and the walk restarts when a higher field changes.
func (s *spec) prev(from time.Time) (time.Time, bool) {
	t := from
	yearLimit := t.Year() - Horizon

wrap:
	if t.Year() < yearLimit {
		return time.Time{}, false
	}

	for !s.month.has(int(t.Month())) {
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
		if t.Month() == time.December {
			goto wrap
		}
	}

	for !s.dayMatches(t) {
		month := t.Month()
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(-time.Second)
		if t.Month() != month {
			goto wrap
		}
	}

	for !s.hour.has(t.Hour()) {
		t = t.Truncate(time.Hour).Add(-time.Second)
		if t.Hour() == 23 {
			goto wrap
		}
	}

	for !s.minute.has(t.Minute()) {
		t = t.Truncate(time.Minute).Add(-time.Second)
		if t.Minute() == 59 {
			goto wrap
		}
	}

	for !s.second.has(t.Second()) {
		t = t.Add(-time.Second)
		if t.Second() == 59 {
			goto wrap
		}
	}

	return t, true
}
