package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "dyncron/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}
	for _, c := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "prefs.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "prefs.db")},
	} {
		st, err := Open(c, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s) error: %v", c.Driver, err)
		}
		out[c.Driver] = st
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()
			if _, ok, err := st.Get(ctx, "Habc"); err != nil || ok {
				t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
			}
			if err := st.Put(ctx, "Habc", []byte{1, 2, 3}); err != nil {
				t.Fatalf("Put error: %v", err)
			}
			if err := st.Put(ctx, "Habc", []byte{4, 5}); err != nil {
				t.Fatalf("Put overwrite error: %v", err)
			}
			got, ok, err := st.Get(ctx, "Habc")
			if err != nil || !ok || !bytes.Equal(got, []byte{4, 5}) {
				t.Fatalf("Get = %v ok=%v err=%v, want [4 5]", got, ok, err)
			}
			if err := st.Delete(ctx, "Habc"); err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "Habc"); ok {
				t.Fatal("key still present after Delete")
			}
			if err := st.Delete(ctx, "Habc"); err != nil {
				t.Fatalf("Delete(missing) error: %v", err)
			}
		})
	}
}

func TestPersistentDriversSurviveReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	for _, driver := range []string{"file", "sqlite"} {
		cfg := Config{Driver: driver, Path: filepath.Join(dir, "p."+driver)}
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s) error: %v", driver, err)
		}
		if err := st.Put(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("%s Put error: %v", driver, err)
		}
		_ = st.Close()

		st, err = Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("reopen %s error: %v", driver, err)
		}
		got, ok, err := st.Get(ctx, "k")
		if err != nil || !ok || string(got) != "v" {
			t.Fatalf("%s after reopen: %q ok=%v err=%v", driver, got, ok, err)
		}
		_ = st.Close()
	}
}

func TestFileSnapshotDamagedStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()
	if _, ok, err := st.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("Get = ok=%v err=%v, want empty store", ok, err)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after Close = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}
