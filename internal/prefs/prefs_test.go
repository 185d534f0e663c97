package prefs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"dyncron/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/zeebo/blake3"
)

var defaults = Record{Crontab: "0 0 0 * * *", IgnoreMissed: true}

func frame(t *testing.T, w wireRecord) []byte {
	t.Helper()
	body, err := encMode.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return withChecksum(append([]byte{magic, version}, body...))
}

func withChecksum(b []byte) []byte {
	sum := blake3.Sum256(b)
	return append(b, sum[:checksumLen]...)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(storage.NewMemory())
	want := Record{Crontab: "*/5 * * * *", Bypass: true, LastFired: 1_714_564_800, Generation: 3}
	if err := p.Save(ctx, "Hkey", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := p.Load(ctx, "Hkey", defaults)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	got, err := New(storage.NewMemory()).Load(context.Background(), "Hnone", defaults)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
	if got != defaults {
		t.Fatalf("Load = %+v, want defaults", got)
	}
}

func TestCorruptRecordsReadAsNotFound(t *testing.T) {
	t.Parallel()
	good, err := encode(Record{Crontab: "0 12 * * *", LastFired: 99})
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"bad magic":   append([]byte{'X'}, good[1:]...),
		"bad version": append([]byte{magic, 9}, good[2:]...),
		// Valid frame around a body that is not CBOR.
		"not cbor": withChecksum([]byte{magic, version, 0xff, 0xff}),
		// {1: "\xff\xfe"}: text string that is not UTF-8.
		"invalid utf8": withChecksum([]byte{magic, version, 0xa1, 0x01, 0x62, 0xff, 0xfe}),
	}
	long := strings.Repeat("x", MaxCrontabLen+1)
	cases["oversize crontab"] = frame(t, wireRecord{Crontab: &long})

	for n := 0; n < len(good); n++ {
		cases[fmt.Sprintf("truncated/%d", n)] = good[:n]
	}
	for i := 0; i < len(good); i++ {
		flipped := append([]byte(nil), good...)
		flipped[i] ^= 0x40
		cases[fmt.Sprintf("flipped/%d", i)] = flipped
	}

	ctx := context.Background()
	for name, raw := range cases {
		st := storage.NewMemory()
		_ = st.Put(ctx, "Hk", raw)
		got, err := New(st).Load(ctx, "Hk", defaults)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: Load err = %v, want ErrNotFound", name, err)
		}
		if got != defaults {
			t.Fatalf("%s: Load = %+v, want defaults", name, got)
		}
	}
}

func TestCorruptErrorCarriesDetail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.Put(ctx, "Hk", []byte{magic, version, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	_, err := New(st).Load(ctx, "Hk", defaults)
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound and ErrCorrupt", err)
	}
}

func TestPartialRecordOverlaysDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cron := "30 6 * * 1-5"
	last := uint64(1_700_000_000)
	st := storage.NewMemory()
	_ = st.Put(ctx, "Hk", frame(t, wireRecord{Crontab: &cron, LastFired: &last}))

	got, err := New(st).Load(ctx, "Hk", defaults)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := Record{Crontab: cron, IgnoreMissed: true, LastFired: last}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("overlay mismatch (-want +got):\n%s", diff)
	}
}

func TestEraseThenLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(storage.NewMemory())
	_ = p.Save(ctx, "Hk", Record{Crontab: "* * * * *", LastFired: 5})
	if err := p.Erase(ctx, "Hk"); err != nil {
		t.Fatalf("Erase error: %v", err)
	}
	if _, err := p.Load(ctx, "Hk", defaults); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Erase err = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsOversizeCrontab(t *testing.T) {
	t.Parallel()
	err := New(storage.NewMemory()).Save(context.Background(), "Hk", Record{Crontab: strings.Repeat("*", 300)})
	if err == nil {
		t.Fatal("expected error for oversize crontab")
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	k := Key("pump_schedule")
	if len(k) != 15 || k[0] != 'H' {
		t.Fatalf("Key = %q, want 15 chars starting with H", k)
	}
	if Key("pump_schedule") != k {
		t.Fatal("Key not stable")
	}
	if Key("lights") == k {
		t.Fatal("distinct ids share a key")
	}
}
