package schedule

import (
	"context"

	logx "dyncron/pkg/logx"
)

// Tick advances the schedule to the current clock reading: it loads the
// record on first use, waits for a trusted clock, handles runs missed while
// the clock was untrusted, fires the Action when a slot is due, and persists
// the record if it changed.
//
// Bypass is sampled once at the start of the tick.
func (s *Schedule) Tick(ctx context.Context) {
	if s.state == Uninitialized {
		if err := s.Load(ctx); err != nil {
			return
		}
	}
	bypass := s.rec.Bypass
	r := s.clk.Now()

	switch {
	case !r.Trusted:
		if s.state != Disabled {
			s.state = WaitingForClock
		}
		s.nextRun, s.due = 0, false
	case s.expr == nil:
		// Disabled; a new crontab re-enables it.
	default:
		if !s.resumed {
			s.resume(r.Epoch, bypass)
		}
		if s.expr != nil {
			s.evaluate(r.Epoch, bypass)
		}
	}

	s.persist(ctx)
}

// resume runs once, on the first trusted reading. Only here are runs missed
// while powered off or without a trusted clock considered.
func (s *Schedule) resume(now int64, bypass bool) {
	s.resumed = true
	s.armAt = now

	last := int64(s.rec.LastFired)
	if last == 0 {
		return
	}
	next, err := s.expr.NextAfter(last)
	if err != nil {
		s.disable(err)
		return
	}
	if next > now {
		return
	}

	log := s.log.With(logx.Epoch("last_fired", last), logx.Epoch("missed", next))
	switch {
	case s.rec.IgnoreMissed:
		prev, err := s.expr.PrevAtOrBefore(now)
		if err == nil && prev > last {
			s.rec.LastFired = uint64(prev)
		}
		log.Info("missed run ignored", logx.Epoch("advanced_to", int64(s.rec.LastFired)))
	case bypass:
		log.Info("missed run suppressed by bypass")
	default:
		log.Info("catching up missed run")
		s.fire(now, true)
	}
}

func (s *Schedule) evaluate(now int64, bypass bool) {
	next, err := s.expr.NextAfter(s.cursor())
	if err != nil {
		s.disable(err)
		return
	}
	s.nextRun = next
	s.due = now >= next

	if s.due {
		if bypass {
			s.armAt = now
			s.log.Debug("due run skipped; bypassed", logx.Epoch("slot", next))
		} else {
			s.fire(now, false)
		}
		if next, err = s.expr.NextAfter(s.cursor()); err != nil {
			s.disable(err)
			return
		}
		s.nextRun = next
		s.logPreview()
	}

	s.state = Armed
	if bypass {
		s.state = Bypassed
	}
}

func (s *Schedule) fire(now int64, catchUp bool) {
	ok := s.action.Fire()
	if uint64(now) > s.rec.LastFired {
		s.rec.LastFired = uint64(now)
	}
	s.lastFire = Fire{At: now, OK: ok, CatchUp: catchUp}
	s.fired = true
	s.fires++
	s.log.Info("schedule fired", logx.Epoch("at", now), logx.Bool("ok", ok), logx.Bool("catch_up", catchUp))
}

// persist saves the record when it differs from the last saved snapshot.
// Failures leave it dirty for the next tick.
func (s *Schedule) persist(ctx context.Context) error {
	if s.state == Uninitialized || !s.Dirty() {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Save(pctx, s.key, s.rec); err != nil {
		if s.warn.Allow("persist") {
			s.log.Warn("persisting record failed; will retry", logx.Err(err))
		}
		return err
	}
	s.saved, s.hasSaved = s.rec, true
	return nil
}
