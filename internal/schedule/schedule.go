package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dyncron/internal/cronexpr"
	"dyncron/internal/prefs"
	logx "dyncron/pkg/logx"
)

const defaultStoreTimeout = 500 * time.Millisecond

type Option func(*Schedule)

func WithLogger(log logx.Logger) Option {
	return func(s *Schedule) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// WithStoreTimeout bounds every storage call made from a tick.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Schedule) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Schedule is a single cron schedule.
//
// A Schedule is not safe for concurrent use: ticks and setter calls must be
// serialized by the caller so a setter never lands in the middle of a tick.
type Schedule struct {
	def     Defaults
	key     string
	store   Store
	clk     Clock
	action  Action
	log     logx.Logger
	warn    *logx.Throttle
	timeout time.Duration

	state State
	expr  *cronexpr.Expression
	err   error

	rec      prefs.Record
	saved    prefs.Record
	hasSaved bool

	resumed bool
	armAt   int64
	nextRun int64
	due     bool

	lastFire Fire
	fired    bool
	fires    uint64
}

// New returns an uninitialized schedule. The first Tick loads its record;
// call Load directly to do it earlier.
func New(def Defaults, store Store, clk Clock, action Action, opts ...Option) *Schedule {
	if action == nil {
		action = ActionFunc(func() bool { return true })
	}
	s := &Schedule{
		def:     def,
		key:     prefs.Key(def.ID),
		store:   store,
		clk:     clk,
		action:  action,
		log:     logx.Nop(),
		warn:    logx.NewThrottle(1.0/60, 1),
		timeout: defaultStoreTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "schedule"), logx.String("id", def.ID))
	return s
}

// Load reads the stored record, applying clear-prefs and overlaying stored
// fields on the defaults, then parses the crontab.
//
// A missing or corrupt record means defaults. Any other storage error leaves
// the schedule uninitialized and is returned: nothing is erased or written
// until a later Load succeeds.
func (s *Schedule) Load(ctx context.Context) error {
	defaults := s.def.record()

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	rec, err := s.store.Load(lctx, s.key, defaults)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, prefs.ErrCorrupt):
		s.log.Warn("stored record corrupt; using defaults", logx.String("key", s.key), logx.Err(err))
	case errors.Is(err, prefs.ErrNotFound):
		s.log.Debug("no stored record; using defaults", logx.String("key", s.key))
	default:
		if s.warn.Allow("load") {
			s.log.Warn("loading stored record failed; will retry", logx.String("key", s.key), logx.Err(err))
		}
		s.rec = defaults
		s.state = Uninitialized
		return err
	}
	s.rec = rec
	s.state = WaitingForClock

	if s.def.ClearPrefs && (err != nil || rec.Generation != s.def.Generation) {
		s.log.Info("clearing stored preferences", logx.Uint64("generation", s.def.Generation))
		ectx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := s.store.Erase(ectx, s.key); err != nil {
			s.log.Warn("erasing stored record failed", logx.Err(err))
		}
		cancel()
		s.rec = defaults
		s.persist(ctx)
	} else if err == nil {
		s.saved, s.hasSaved = rec, true
	}

	s.resumed = false
	s.setExpr(s.rec.Crontab)
	s.log.Info("schedule loaded",
		logx.String("name", s.def.Name),
		logx.String("crontab", s.rec.Crontab),
		logx.Bool("bypass", s.rec.Bypass),
		logx.Bool("ignore_missed", s.rec.IgnoreMissed),
		logx.Epoch("last_fired", int64(s.rec.LastFired)))
	return nil
}

// loaded loads the record on first use from a setter. It reports false while
// storage cannot be read.
func (s *Schedule) loaded() bool {
	if s.state != Uninitialized {
		return true
	}
	return s.Load(context.Background()) == nil
}

func (s *Schedule) setExpr(text string) {
	e, err := cronexpr.Parse(text)
	if err != nil {
		s.disable(err)
		return
	}
	s.expr, s.err = e, nil
	if s.state == Disabled || s.state == Uninitialized {
		s.state = WaitingForClock
	}
}

func (s *Schedule) disable(err error) {
	s.expr = nil
	s.err = err
	s.state = Disabled
	s.nextRun, s.due = 0, false
	s.log.Warn("schedule disabled", logx.String("crontab", s.rec.Crontab), logx.Err(err))
}

// ErrNotLoaded is returned by SetCrontab while the stored record cannot be read.
var ErrNotLoaded = errors.New("schedule: stored record not loaded")

// SetCrontab replaces the cron expression and re-arms the schedule at the
// current time. An unparsable crontab is kept (so it persists and shows in the
// UI) and disables the schedule; the parse error is returned.
//
// Setters load the stored record first if no Tick or Load has done so yet.
func (s *Schedule) SetCrontab(text string) error {
	if len(text) > prefs.MaxCrontabLen {
		return fmt.Errorf("crontab is %d bytes, max %d", len(text), prefs.MaxCrontabLen)
	}
	if !s.loaded() {
		return ErrNotLoaded
	}
	if text == s.rec.Crontab {
		return s.err
	}
	s.rec.Crontab = text
	s.setExpr(text)
	if s.expr == nil {
		return s.err
	}
	s.log.Info("crontab changed", logx.String("crontab", text))
	s.rearm()
	return nil
}

// SetBypass toggles firing suppression. Clearing it re-arms at the current
// time, so slots that passed while bypassed are not fired late.
func (s *Schedule) SetBypass(v bool) {
	if !s.loaded() {
		s.log.Warn("bypass change dropped; record not loaded", logx.Bool("bypass", v))
		return
	}
	if v == s.rec.Bypass {
		return
	}
	s.rec.Bypass = v
	s.log.Info("bypass changed", logx.Bool("bypass", v))
	if !v {
		s.rearm()
		return
	}
	s.refresh()
}

func (s *Schedule) SetIgnoreMissed(v bool) {
	if !s.loaded() {
		s.log.Warn("ignore-missed change dropped; record not loaded", logx.Bool("ignore_missed", v))
		return
	}
	if v == s.rec.IgnoreMissed {
		return
	}
	s.rec.IgnoreMissed = v
	s.log.Info("ignore-missed changed", logx.Bool("ignore_missed", v))
}

func (s *Schedule) rearm() {
	s.armAt = s.clk.Now().Epoch
	s.refresh()
}

// refresh recomputes NextRun without firing. It does nothing until the
// first trusted tick has been processed.
func (s *Schedule) refresh() {
	if s.expr == nil || !s.resumed {
		return
	}
	next, err := s.expr.NextAfter(s.cursor())
	if err != nil {
		s.disable(err)
		return
	}
	s.nextRun, s.due = next, false
	if s.state != Disabled {
		s.state = Armed
		if s.rec.Bypass {
			s.state = Bypassed
		}
	}
	s.logPreview()
}

func (s *Schedule) cursor() int64 {
	c := int64(s.rec.LastFired)
	if s.armAt > c {
		c = s.armAt
	}
	return c
}

func (s *Schedule) logPreview() {
	if !s.log.Enabled(logx.LevelDebug) || s.expr == nil {
		return
	}
	runs := s.expr.NextN(s.cursor(), 3)
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, time.Unix(r, 0).UTC().Format(time.DateTime))
	}
	s.log.Debug("next runs", logx.Any("runs", out))
}

// Flush persists the record now if it changed. An unloaded record is never
// written.
func (s *Schedule) Flush(ctx context.Context) error {
	return s.persist(ctx)
}

func (s *Schedule) Name() string { return s.def.Name }
func (s *Schedule) ID() string   { return s.def.ID }

// Key is the storage key of the schedule's record.
func (s *Schedule) Key() string { return s.key }

func (s *Schedule) State() State { return s.state }

// NextRun is the next due time in epoch seconds, 0 when unknown.
func (s *Schedule) NextRun() int64 { return s.nextRun }

// Due reports whether the last tick found a slot due (fired or skipped).
func (s *Schedule) Due() bool { return s.due }

// Err is the parse or evaluation error that disabled the schedule.
func (s *Schedule) Err() error { return s.err }

func (s *Schedule) Record() prefs.Record { return s.rec }
func (s *Schedule) Crontab() string      { return s.rec.Crontab }
func (s *Schedule) Bypass() bool         { return s.rec.Bypass }
func (s *Schedule) IgnoreMissed() bool   { return s.rec.IgnoreMissed }

// LastFire returns the most recent Action invocation of this run.
func (s *Schedule) LastFire() (Fire, bool) { return s.lastFire, s.fired }

// Fires counts Action invocations since start.
func (s *Schedule) Fires() uint64 { return s.fires }

// Dirty reports whether the record differs from what was last persisted.
func (s *Schedule) Dirty() bool { return !s.hasSaved || s.rec != s.saved }

// Preview returns up to n upcoming runs from the current cursor.
func (s *Schedule) Preview(n int) []int64 {
	if s.expr == nil || !s.resumed {
		return nil
	}
	return s.expr.NextN(s.cursor(), n)
}
