// Package entity exposes a schedule to the UI as four entities: two switches,
// a crontab text field and a next-run text sensor.
package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dyncron/internal/schedule"
)

const (
	// SensorUnknown is shown while the clock is untrusted or no run has been
	// computed yet.
	SensorUnknown = "unknown"
	// SensorInvalid is shown while the crontab does not parse or never matches.
	SensorInvalid = "invalid"

	TimeFormat = "2006-01-02 15:04:05"

	CrontabMaxLength = 255
)

type Kind string

const (
	KindSwitch Kind = "switch"
	KindText   Kind = "text"
	KindSensor Kind = "text_sensor"
)

// State is one published entity value.
type State struct {
	ObjectID string `json:"object_id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Icon     string `json:"icon,omitempty"`
	Value    string `json:"value"`
}

type Publisher interface {
	Publish(State)
}

type PublisherFunc func(State)

func (f PublisherFunc) Publish(s State) { f(s) }

// Target is the schedule surface the entities read and write.
// *schedule.Schedule implements it.
type Target interface {
	ID() string
	Name() string
	State() schedule.State
	NextRun() int64
	Bypass() bool
	SetBypass(bool)
	IgnoreMissed() bool
	SetIgnoreMissed(bool)
	Crontab() string
	SetCrontab(string) error
}

// Switch is a boolean entity bound to one schedule flag.
type Switch struct {
	ObjectID string
	Name     string
	Icon     string

	get func() bool
	set func(bool)
}

func (w *Switch) Write(v bool) { w.set(v) }
func (w *Switch) State() bool  { return w.get() }

func (w *Switch) value() string { return onOff(w.get()) }

// Text is the crontab text field.
type Text struct {
	ObjectID  string
	Name      string
	Icon      string
	MaxLength int

	target Target
}

// Control applies a crontab typed by the user.
func (t *Text) Control(v string) error {
	v = strings.TrimSpace(v)
	if len(v) > t.MaxLength {
		return fmt.Errorf("%s: value is %d bytes, max %d", t.ObjectID, len(v), t.MaxLength)
	}
	return t.target.SetCrontab(v)
}

func (t *Text) State() string { return t.target.Crontab() }

// Sensor is the read-only next-run field.
type Sensor struct {
	ObjectID string
	Name     string
	Icon     string

	target Target
}

func (s *Sensor) State() string { return FormatNextRun(s.target) }

// FormatNextRun renders a target's next run for display.
func FormatNextRun(t Target) string {
	if t.State() == schedule.Disabled {
		return SensorInvalid
	}
	next := t.NextRun()
	if next <= 0 {
		return SensorUnknown
	}
	return time.Unix(next, 0).UTC().Format(TimeFormat)
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// ParseBool accepts the switch spellings used by UIs and config files.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "y", "enable", "enabled":
		return true, nil
	case "off", "no", "n", "disable", "disabled":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}
