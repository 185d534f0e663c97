package entity

import (
	"errors"
	"testing"
	"time"

	"dyncron/internal/schedule"
)

type fakeTarget struct {
	state   schedule.State
	next    int64
	bypass  bool
	ignore  bool
	crontab string
	setErr  error
}

func (f *fakeTarget) ID() string                { return "pump" }
func (f *fakeTarget) Name() string              { return "Pump" }
func (f *fakeTarget) State() schedule.State     { return f.state }
func (f *fakeTarget) NextRun() int64            { return f.next }
func (f *fakeTarget) Bypass() bool              { return f.bypass }
func (f *fakeTarget) SetBypass(v bool)          { f.bypass = v }
func (f *fakeTarget) IgnoreMissed() bool        { return f.ignore }
func (f *fakeTarget) SetIgnoreMissed(v bool)    { f.ignore = v }
func (f *fakeTarget) Crontab() string           { return f.crontab }
func (f *fakeTarget) SetCrontab(v string) error { f.crontab = v; return f.setErr }

type recorder []State

func (r *recorder) Publish(s State) { *r = append(*r, s) }

func TestBuildNames(t *testing.T) {
	t.Parallel()
	b := Build(&fakeTarget{}, nil)
	tests := []struct{ objectID, name, wantID, wantName string }{
		{b.Bypass.ObjectID, b.Bypass.Name, "bypass_switch_pump", "Pump - Disable"},
		{b.IgnoreMissed.ObjectID, b.IgnoreMissed.Name, "ignore_missed_switch_pump", "Pump - Ignore Missed"},
		{b.Crontab.ObjectID, b.Crontab.Name, "crontab_text_field_pump", "Pump - Crontab"},
		{b.NextRun.ObjectID, b.NextRun.Name, "cron_next_sensor_pump", "Pump - Next Run"},
	}
	for _, tt := range tests {
		if tt.objectID != tt.wantID || tt.name != tt.wantName {
			t.Fatalf("entity = %q/%q, want %q/%q", tt.objectID, tt.name, tt.wantID, tt.wantName)
		}
	}
}

func TestFormatNextRun(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC).Unix()
	tests := []struct {
		name   string
		target fakeTarget
		want   string
	}{
		{name: "unknown", target: fakeTarget{state: schedule.WaitingForClock}, want: SensorUnknown},
		{name: "invalid", target: fakeTarget{state: schedule.Disabled, next: at}, want: SensorInvalid},
		{name: "armed", target: fakeTarget{state: schedule.Armed, next: at}, want: "2024-05-01 11:00:00"},
		{name: "bypassed", target: fakeTarget{state: schedule.Bypassed, next: at}, want: "2024-05-01 11:00:00"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatNextRun(&tt.target); got != tt.want {
				t.Fatalf("FormatNextRun() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	tgt := &fakeTarget{state: schedule.WaitingForClock, crontab: "0 * * * *"}
	var rec recorder
	b := Build(tgt, &rec)

	if n := b.Sync(); n != 4 || len(rec) != 4 {
		t.Fatalf("first Sync published %d, want all 4", n)
	}
	if n := b.Sync(); n != 0 {
		t.Fatalf("unchanged Sync published %d, want 0", n)
	}

	tgt.state, tgt.next = schedule.Armed, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC).Unix()
	if n := b.Sync(); n != 1 {
		t.Fatalf("Sync published %d, want 1", n)
	}
	last := rec[len(rec)-1]
	if last.ObjectID != "cron_next_sensor_pump" || last.Value != "2024-05-01 11:00:00" || last.Kind != KindSensor {
		t.Fatalf("published %+v", last)
	}
}

func TestWriteRoutesToTarget(t *testing.T) {
	t.Parallel()
	tgt := &fakeTarget{}
	b := Build(tgt, nil)

	if err := b.Write("bypass_switch_pump", "ON"); err != nil || !tgt.bypass {
		t.Fatalf("bypass write: err=%v bypass=%v", err, tgt.bypass)
	}
	if err := b.Write("ignore_missed_switch_pump", "true"); err != nil || !tgt.ignore {
		t.Fatalf("ignore write: err=%v ignore=%v", err, tgt.ignore)
	}
	if err := b.Write("crontab_text_field_pump", "  */5 * * * *\n"); err != nil || tgt.crontab != "*/5 * * * *" {
		t.Fatalf("crontab write: err=%v crontab=%q", err, tgt.crontab)
	}
	if err := b.Write("bypass_switch_pump", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean switch value")
	}
	if err := b.Write("cron_next_sensor_pump", "x"); err == nil {
		t.Fatal("expected error writing read-only sensor")
	}
	if err := b.Write("other", "x"); err == nil {
		t.Fatal("expected error for unknown entity")
	}
	if !b.Owns("crontab_text_field_pump") || b.Owns("cron_next_sensor_pump") {
		t.Fatal("Owns() mismatch")
	}
}

func TestTextControlLimits(t *testing.T) {
	t.Parallel()
	tgt := &fakeTarget{setErr: errors.New("parse")}
	b := Build(tgt, nil)
	long := make([]byte, CrontabMaxLength+1)
	for i := range long {
		long[i] = '*'
	}
	if err := b.Crontab.Control(string(long)); err == nil {
		t.Fatal("expected error for oversize crontab")
	}
	if tgt.crontab != "" {
		t.Fatalf("oversize crontab reached target: %q", tgt.crontab)
	}
	if err := b.Crontab.Control("bad"); err == nil {
		t.Fatal("expected parse error to propagate")
	}
}
