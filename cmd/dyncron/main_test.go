package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNextCrontab(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	err := run([]string{"next", "-n", "3", "--from", "2024-05-01T10:00:30Z", "0", "*", "*", "*", "*"}, &out)
	if err != nil {
		t.Fatalf("run = %v", err)
	}
	want := "  2024-05-01 11:00:00\n  2024-05-01 12:00:00\n  2024-05-01 13:00:00\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("output (-want +got):\n%s", diff)
	}
}

func TestNextUnsatisfiable(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if err := run([]string{"next", "0 0 31 2 *"}, &out); err != nil {
		t.Fatalf("run = %v", err)
	}
	if out.String() != "  never\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("schedules:\n  - id: pump\n    crontab: \"*/5 * * * *\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("schedules:\n  - id: pump\n    crontab: \"61 * * * *\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run([]string{"validate", "-c", good}, &out); err != nil {
		t.Fatalf("validate good = %v", err)
	}
	if err := run([]string{"validate", "-c", bad}, &out); err == nil {
		t.Fatal("validate bad = nil, want error")
	}
	if err := run([]string{"bogus"}, &out); err == nil {
		t.Fatal("unknown command = nil, want error")
	}
}
