package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dyncron/pkg/logx"
)

// HotSections can be applied without restarting the process.
var HotSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns (1) the changed sections, (2) structured
// attrs for logging and (3) the ids of schedules that were added, removed or
// changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Device, newCfg.Device) {
		changed = append(changed, "device")
		attrs = append(attrs,
			logx.String("device.tick_interval", strings.TrimSpace(newCfg.Device.TickInterval)),
			logx.String("device.storage_timeout", strings.TrimSpace(newCfg.Device.StorageTimeout)),
			logx.String("device.clock_valid_after", strings.TrimSpace(newCfg.Device.ClockValidAfter)),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs, logx.Bool("control.path_set", newCfg.Control.Path != ""))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	schedChanged := diffSchedules(oldCfg.Schedules, newCfg.Schedules)
	if len(schedChanged) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(schedChanged)),
			logx.Int("schedules.count", len(newCfg.Schedules)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, schedChanged
}

func diffSchedules(oldS, newS []ScheduleConfig) []string {
	oldM := make(map[string]ScheduleConfig, len(oldS))
	for _, s := range oldS {
		oldM[s.ID] = s
	}
	newM := make(map[string]ScheduleConfig, len(newS))
	for _, s := range newS {
		newM[s.ID] = s
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, okO := oldM[id]
		n, okN := newM[id]
		if okO != okN || !sameSchedule(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sameSchedule(a, b ScheduleConfig) bool {
	if a.Name != b.Name || a.Crontab != b.Crontab || a.Bypass != b.Bypass ||
		a.IgnoreMissed != b.IgnoreMissed || a.ClearPrefs != b.ClearPrefs ||
		a.Generation != b.Generation || a.Action.Type != b.Action.Type {
		return false
	}
	return canonicalHashJSON(a.Action.Config) == canonicalHashJSON(b.Action.Config)
}
