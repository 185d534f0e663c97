package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dyncron/internal/cronexpr"
)

type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Device    DeviceConfig     `json:"device"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Control   ControlConfig    `json:"control"`
	Debug     DebugConfig      `json:"debug"`
	Schedules []ScheduleConfig `json:"schedules"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeviceConfig controls the host loop.
//
// Durations are Go duration strings. Defaults:
//   - tick_interval: "5s"
//   - storage_timeout: "500ms"
//   - clock_valid_after: "2021-01-01" (RFC 3339 or YYYY-MM-DD)
type DeviceConfig struct {
	TickInterval    string `json:"tick_interval,omitempty"`
	StorageTimeout  string `json:"storage_timeout,omitempty"`
	ClockValidAfter string `json:"clock_valid_after,omitempty"`
}

const (
	DefaultTickInterval   = 5 * time.Second
	DefaultStorageTimeout = 500 * time.Millisecond
)

func (d DeviceConfig) TickIntervalOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("device.tick_interval", d.TickInterval, DefaultTickInterval)
}

func (d DeviceConfig) StorageTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("device.storage_timeout", d.StorageTimeout, DefaultStorageTimeout)
}

// ClockValidAfterOrZero returns the configured threshold, or the zero time
// when unset (callers then use the clock package default).
func (d DeviceConfig) ClockValidAfterOrZero() (time.Time, error) {
	return ParseTimeField("device.clock_valid_after", d.ClockValidAfter)
}

// StorageConfig selects the preferences backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "/var/lib/dyncron/prefs.db" }
//
// An omitted section keeps preferences in memory only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ControlConfig names the files that stand in for the device UI.
//
// Path is watched for edits of the form `entities: {object_id: value}`;
// StatePath, when set, receives the published entity states.
type ControlConfig struct {
	Path      string `json:"path,omitempty"`
	StatePath string `json:"state_path,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof, /healthz,
// /status). A non-loopback addr requires a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ScheduleConfig is the compiled-in definition of one schedule.
type ScheduleConfig struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Crontab      string `json:"crontab,omitempty"`
	Bypass       bool   `json:"bypass,omitempty"`
	IgnoreMissed bool   `json:"ignore_missed,omitempty"`

	// ClearPrefs erases the stored record once per Generation. With
	// generation 0 the build epoch is used, so each new build clears once.
	ClearPrefs bool   `json:"clear_prefs,omitempty"`
	Generation uint64 `json:"generation,omitempty"`

	Action ActionConfig `json:"action"`
}

// ActionConfig selects what a schedule does when it fires. Config is
// decoded by the action type.
type ActionConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so misspelled keys are caught at
// load time instead of silently ignored.
func (a *ActionConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Type   string          `json:"type"`
		Config json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*a = ActionConfig{Type: t.Type, Config: t.Config}
	return nil
}

var idPattern = regexp.MustCompile(`^[a-z0-9_]{1,48}$`)

// Validate checks the whole config. It returns every problem found, joined.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Device.TickIntervalOrDefault(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Device.StorageTimeoutOrDefault(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Device.ClockValidAfterOrZero(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cp, sp := strings.TrimSpace(c.Control.Path), strings.TrimSpace(c.Control.StatePath); cp != "" && cp == sp {
		errs = append(errs, errors.New("control.state_path must differ from control.path"))
	}

	if len(c.Schedules) == 0 {
		errs = append(errs, errors.New("schedules: at least one schedule is required"))
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		p := fmt.Sprintf("schedules[%d]", i)
		if !idPattern.MatchString(s.ID) {
			errs = append(errs, fmt.Errorf("%s.id: %q must match %s", p, s.ID, idPattern))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Errorf("%s.id: duplicate %q", p, s.ID))
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Crontab) != "" {
			if err := cronexpr.Validate(s.Crontab); err != nil {
				errs = append(errs, fmt.Errorf("%s.crontab: %w", p, err))
			}
		}
		switch strings.ToLower(strings.TrimSpace(s.Action.Type)) {
		case "", "log", "exec", "systemd":
		default:
			errs = append(errs, fmt.Errorf("%s.action.type: unknown %q", p, s.Action.Type))
		}
	}
	return errors.Join(errs...)
}
