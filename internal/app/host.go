package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"dyncron/internal/config"
	"dyncron/internal/entity"
	"dyncron/internal/eventbus"
	"dyncron/internal/runtime/supervisor"
	logx "dyncron/pkg/logx"
)

// FireEvent is the payload of eventbus.TypeScheduleFired.
type FireEvent struct {
	ID      string `json:"id"`
	At      int64  `json:"at"`
	OK      bool   `json:"ok"`
	CatchUp bool   `json:"catch_up"`
}

// AnomalyEvent is the payload of eventbus.TypeClockAnomaly.
type AnomalyEvent struct {
	Count   uint64 `json:"count"`
	Trusted bool   `json:"trusted"`
}

// ScheduleStatus is a point-in-time view of one schedule.
type ScheduleStatus struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	State        string `json:"state" yaml:"state"`
	Crontab      string `json:"crontab" yaml:"crontab"`
	Bypass       bool   `json:"bypass" yaml:"bypass"`
	IgnoreMissed bool   `json:"ignore_missed" yaml:"ignore_missed"`
	NextRun      string `json:"next_run" yaml:"next_run"`
	LastFired    uint64 `json:"last_fired" yaml:"last_fired"`
	Fires        uint64 `json:"fires" yaml:"fires"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Tick runs one scheduler pass over every schedule, then publishes fires,
// clock anomalies and changed entity states.
func (a *App) Tick(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, u := range a.units {
		u.sched.Tick(ctx)
		if n := u.sched.Fires(); n != u.fires {
			u.fires = n
			if f, ok := u.sched.LastFire(); ok {
				a.bus.Publish(eventbus.Event{
					Type: eventbus.TypeScheduleFired,
					Time: time.Now(),
					Data: FireEvent{ID: u.sched.ID(), At: f.At, OK: f.OK, CatchUp: f.CatchUp},
				})
			}
		}
		u.bridge.Sync()
	}

	if n := a.clk.Anomalies(); n != a.anomalies {
		a.anomalies = n
		a.bus.Publish(eventbus.Event{
			Type: eventbus.TypeClockAnomaly,
			Time: time.Now(),
			Data: AnomalyEvent{Count: n, Trusted: a.clk.Trusted()},
		})
	}
}

// Write applies a value to a writable entity, as if set from the device UI.
func (a *App) Write(objectID, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.units {
		if !u.bridge.Owns(objectID) {
			continue
		}
		err := u.bridge.Write(objectID, value)
		u.bridge.Sync()
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnknownEntity, objectID)
}

// Flush persists every schedule whose record changed since the last save.
func (a *App) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, u := range a.units {
		if err := u.sched.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.sched.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Status returns a view of every schedule in configuration order.
func (a *App) Status() []ScheduleStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ScheduleStatus, 0, len(a.units))
	for _, u := range a.units {
		s := u.sched
		st := ScheduleStatus{
			ID:           s.ID(),
			Name:         s.Name(),
			State:        s.State().String(),
			Crontab:      s.Crontab(),
			Bypass:       s.Bypass(),
			IgnoreMissed: s.IgnoreMissed(),
			NextRun:      entity.FormatNextRun(s),
			LastFired:    s.Record().LastFired,
			Fires:        s.Fires(),
		}
		if err := s.Err(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Entities returns the current state of every entity.
func (a *App) Entities() []entity.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []entity.State
	for _, u := range a.units {
		out = append(out, u.bridge.States()...)
	}
	return out
}

func (a *App) publishEntity(st entity.State) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeEntityState, Time: time.Now(), Data: st})
}

// applyControl routes edited control file entries to their entities.
func (a *App) applyControl() {
	changes, err := a.control.Changes()
	if err != nil {
		a.log.Warn("control file rejected", logx.String("path", a.control.Path()), logx.Err(err))
		return
	}
	ids := make([]string, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := a.Write(id, changes[id]); err != nil {
			a.log.Warn("entity write rejected", logx.String("entity", id), logx.Err(err))
			continue
		}
		a.log.Info("entity written", logx.String("entity", id), logx.String("value", changes[id]))
	}
}

type stateFile struct {
	Boot      string            `yaml:"boot"`
	Updated   time.Time         `yaml:"updated"`
	Entities  map[string]string `yaml:"entities"`
	Schedules []ScheduleStatus  `yaml:"schedules"`
}

// startStateSink mirrors entity states into the state file. Bursts of
// events collapse into one write.
func (a *App) startStateSink() {
	events, unsub := a.bus.Subscribe(64)
	log := a.log.With(logx.String("comp", "state"))
	a.sup.Go0("state.sink", func(c context.Context) {
		defer unsub()
		warn := logx.NewThrottle(1.0/60, 1)
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != eventbus.TypeEntityState && e.Type != eventbus.TypeScheduleFired {
					continue
				}
				for drained := false; !drained; {
					select {
					case _, ok := <-events:
						if !ok {
							return
						}
					default:
						drained = true
					}
				}
				if err := a.writeState(); err != nil && warn.Allow("write") {
					log.Warn("state file write failed", logx.String("path", a.statePath), logx.Err(err))
				}
			}
		}
	})
}

func (a *App) writeState() error {
	ents := map[string]string{}
	for _, st := range a.Entities() {
		ents[st.ObjectID] = st.Value
	}
	return config.WriteYAML(a.statePath, stateFile{
		Boot:      a.boot,
		Updated:   time.Now().UTC(),
		Entities:  ents,
		Schedules: a.Status(),
	})
}

type statusDoc struct {
	Boot          string              `json:"boot"`
	ClockTrusted  bool                `json:"clock_trusted"`
	Anomalies     uint64              `json:"clock_anomalies"`
	EventsDropped uint64              `json:"events_dropped"`
	Goroutines    supervisor.Counters `json:"goroutines"`
	Schedules     []ScheduleStatus    `json:"schedules"`
	Entities      []entity.State      `json:"entities"`
}

// serveStatus renders the schedules and entities as JSON for the debug server.
func (a *App) serveStatus(w http.ResponseWriter, _ *http.Request) {
	doc := statusDoc{
		Boot:          a.boot,
		ClockTrusted:  a.clk.Trusted(),
		Anomalies:     a.clk.Anomalies(),
		EventsDropped: a.bus.Dropped(),
		Schedules:     a.Status(),
		Entities:      a.Entities(),
	}
	if a.sup != nil {
		doc.Goroutines = a.sup.Counters()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		a.log.Debug("status write failed", logx.Err(err))
	}
}
