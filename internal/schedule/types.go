// Package schedule implements one persistent cron schedule: a tick-driven
// state machine that decides when to fire its Action, reasons about runs
// missed while the device was off or had no trusted clock, and keeps its
// state in a prefs record.
package schedule

import (
	"context"

	"dyncron/internal/clock"
	"dyncron/internal/prefs"
)

// DefaultCrontab is used when a schedule is configured without one.
const DefaultCrontab = "0 0 0 * * *"

// Action is invoked when a schedule fires. The result is informational: a
// failed run still counts as fired. Fire runs on the tick path and must not
// block.
type Action interface {
	Fire() bool
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func() bool

func (f ActionFunc) Fire() bool { return f() }

// Store persists schedule records. *prefs.Prefs implements it.
type Store interface {
	Load(ctx context.Context, key string, defaults prefs.Record) (prefs.Record, error)
	Save(ctx context.Context, key string, r prefs.Record) error
	Erase(ctx context.Context, key string) error
}

// Clock supplies the current time. *clock.Clock implements it.
type Clock interface {
	Now() clock.Reading
}

// Defaults are the compiled-in (configured) values for a schedule.
type Defaults struct {
	Name         string
	ID           string
	Crontab      string
	Bypass       bool
	IgnoreMissed bool

	// ClearPrefs erases the stored record once per Generation: a record
	// written under the same Generation is kept.
	ClearPrefs bool
	Generation uint64
}

func (d Defaults) record() prefs.Record {
	c := d.Crontab
	if c == "" {
		c = DefaultCrontab
	}
	return prefs.Record{
		Crontab:      c,
		Bypass:       d.Bypass,
		IgnoreMissed: d.IgnoreMissed,
		Generation:   d.Generation,
	}
}

type State int

const (
	Uninitialized State = iota
	WaitingForClock
	Armed
	Bypassed
	Disabled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case WaitingForClock:
		return "waiting_for_clock"
	case Armed:
		return "armed"
	case Bypassed:
		return "bypassed"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Fire describes the most recent Action invocation.
type Fire struct {
	At      int64
	OK      bool
	CatchUp bool
}
