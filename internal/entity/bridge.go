package entity

import (
	"fmt"
)

// Bridge binds the four entities of one schedule and publishes their states.
type Bridge struct {
	Bypass       *Switch
	IgnoreMissed *Switch
	Crontab      *Text
	NextRun      *Sensor

	pub  Publisher
	last map[string]string
}

// Build constructs the entities for t. Object ids and names follow the
// "<kind>_<id>" / "<name> - <label>" scheme.
func Build(t Target, pub Publisher) *Bridge {
	id, name := t.ID(), t.Name()
	if name == "" {
		name = id
	}
	return &Bridge{
		Bypass: &Switch{
			ObjectID: "bypass_switch_" + id,
			Name:     name + " - Disable",
			Icon:     "mdi:timer-off-outline",
			get:      t.Bypass,
			set:      t.SetBypass,
		},
		IgnoreMissed: &Switch{
			ObjectID: "ignore_missed_switch_" + id,
			Name:     name + " - Ignore Missed",
			Icon:     "mdi:timer-off-outline",
			get:      t.IgnoreMissed,
			set:      t.SetIgnoreMissed,
		},
		Crontab: &Text{
			ObjectID:  "crontab_text_field_" + id,
			Name:      name + " - Crontab",
			Icon:      "mdi:calendar-clock-outline",
			MaxLength: CrontabMaxLength,
			target:    t,
		},
		NextRun: &Sensor{
			ObjectID: "cron_next_sensor_" + id,
			Name:     name + " - Next Run",
			Icon:     "mdi:timer-outline",
			target:   t,
		},
		pub:  pub,
		last: map[string]string{},
	}
}

// States returns the current value of every entity.
func (b *Bridge) States() []State {
	return []State{
		{ObjectID: b.Bypass.ObjectID, Name: b.Bypass.Name, Kind: KindSwitch, Icon: b.Bypass.Icon, Value: b.Bypass.value()},
		{ObjectID: b.IgnoreMissed.ObjectID, Name: b.IgnoreMissed.Name, Kind: KindSwitch, Icon: b.IgnoreMissed.Icon, Value: b.IgnoreMissed.value()},
		{ObjectID: b.Crontab.ObjectID, Name: b.Crontab.Name, Kind: KindText, Icon: b.Crontab.Icon, Value: b.Crontab.State()},
		{ObjectID: b.NextRun.ObjectID, Name: b.NextRun.Name, Kind: KindSensor, Icon: b.NextRun.Icon, Value: b.NextRun.State()},
	}
}

// Sync publishes every entity whose value changed since the last Sync and
// returns how many were published.
func (b *Bridge) Sync() int {
	n := 0
	for _, st := range b.States() {
		if prev, ok := b.last[st.ObjectID]; ok && prev == st.Value {
			continue
		}
		b.last[st.ObjectID] = st.Value
		if b.pub != nil {
			b.pub.Publish(st)
		}
		n++
	}
	return n
}

// Owns reports whether objectID names one of this bridge's writable entities.
func (b *Bridge) Owns(objectID string) bool {
	switch objectID {
	case b.Bypass.ObjectID, b.IgnoreMissed.ObjectID, b.Crontab.ObjectID:
		return true
	}
	return false
}

// Write routes a textual value to the entity with the given object id.
func (b *Bridge) Write(objectID, value string) error {
	switch objectID {
	case b.Bypass.ObjectID, b.IgnoreMissed.ObjectID:
		v, err := ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", objectID, err)
		}
		if objectID == b.Bypass.ObjectID {
			b.Bypass.Write(v)
		} else {
			b.IgnoreMissed.Write(v)
		}
		return nil
	case b.Crontab.ObjectID:
		return b.Crontab.Control(value)
	case b.NextRun.ObjectID:
		return fmt.Errorf("%s is read-only", objectID)
	}
	return fmt.Errorf("unknown entity %q", objectID)
}
