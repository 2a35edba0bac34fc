package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reclaim-io/reclaim/internal/config"
)

const (
	older = `{"create_timestamp":"2024-01-01T00:00:00.000Z","v":"old"}`
	newer = `{"create_timestamp":"2024-06-01T00:00:00.000Z","v":"new"}`
)

func seedPair(f *fakeIndexService) {
	f.seed("P", "a", older)
	f.seed("R", "a", newer)
	f.seed("P", "b", newer)
	f.seed("R", "c", older)
	f.seed("P", "d", "not json")
	f.seed("R", "d", "{broken")
}

func TestReconcileRequiresMode(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1", "")
	_, err := execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R")
	if err == nil {
		t.Fatal("expected an error without --dry-run or --recover")
	}

	_, err = execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R", "--dry-run", "--recover")
	if err == nil {
		t.Fatal("expected --dry-run and --recover to be exclusive")
	}
}

func TestReconcileCleanupRequiresRecover(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1", "")
	_, err := execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R", "--dry-run", "--cleanup")
	if err == nil || !strings.Contains(err.Error(), "--cleanup requires --recover") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReconcileRequiresPair(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1", "")
	_, err := execute(t, "reconcile", "--config", path, "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "--primary and --replica") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReconcileDryRun(t *testing.T) {
	f := newFakeIndexService()
	seedPair(f)
	path := writeConfig(t, f.start(t), "")
	snap := filepath.Join(t.TempDir(), "union.jsonl.zst")

	out, err := execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R",
		"--dry-run", "--snapshot", snap)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	for _, want := range []string{
		"a\treplica\tnewer",
		"b\tprimary\tprimary_only",
		"c\treplica\treplica_only",
		"d\tnone\tboth_corrupt",
		"keys=4 kept=3 dropped=1 written=0 cleaned=0 failed=0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if n := f.putCount(); n != 0 {
		t.Errorf("dry run wrote %d values", n)
	}
	info, err := os.Stat(snap)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("snapshot is empty")
	}
}

func TestReconcileRecoverWithCleanup(t *testing.T) {
	f := newFakeIndexService()
	seedPair(f)
	path := writeConfig(t, f.start(t), "")

	out, err := execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R",
		"--recover", "--cleanup")
	if err != nil {
		t.Fatalf("recover failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "written=3 cleaned=3 failed=0") {
		t.Errorf("unexpected report %q", out)
	}

	primary := f.snapshot("P")
	if primary["a"] != newer || primary["b"] != newer || primary["c"] != older {
		t.Errorf("primary not recovered: %v", primary)
	}
	if primary["d"] != "not json" {
		t.Errorf("dropped key was mutated: %q", primary["d"])
	}

	replica := f.snapshot("R")
	if _, ok := replica["a"]; ok {
		t.Error("replica key a not cleaned")
	}
	if _, ok := replica["c"]; ok {
		t.Error("replica key c not cleaned")
	}
	if replica["d"] != "{broken" {
		t.Errorf("dropped key was cleaned: %q", replica["d"])
	}
}

func TestReconcileRecoverToDestination(t *testing.T) {
	f := newFakeIndexService()
	seedPair(f)
	path := writeConfig(t, f.start(t), "")

	if _, err := execute(t, "reconcile", "--config", path, "--primary", "P", "--replica", "R",
		"--recover", "--destination", "D"); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	dest := f.snapshot("D")
	if len(dest) != 3 {
		t.Errorf("destination has %d keys, want 3", len(dest))
	}
	if got := f.snapshot("P")["a"]; got != older {
		t.Errorf("primary modified without --cleanup: %q", got)
	}
}

func TestSnapshotFormatResolution(t *testing.T) {
	tests := []struct {
		flag, configured, path string
		want                   string
		wantErr                bool
	}{
		{path: "u.parquet", configured: "jsonl", want: "parquet"},
		{path: "u.jsonl.lz4", want: "jsonl.lz4"},
		{flag: "jsonl.snappy", configured: "jsonl.snappy", path: "u.out", want: "jsonl.snappy"},
		{configured: "jsonl.zst", path: "u.out", want: "jsonl.zst"},
		{flag: "csv", configured: "csv", path: "u.csv", wantErr: true},
	}
	for _, tt := range tests {
		opts := &ReconcileOptions{SnapshotFormat: tt.flag}
		got, err := opts.snapshotFormat(configReconcile(tt.configured, tt.path))
		if tt.wantErr {
			if err == nil {
				t.Errorf("%+v: expected error", tt)
			}
			continue
		}
		if err != nil {
			t.Errorf("%+v: %v", tt, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("%+v: got %s, want %s", tt, got, tt.want)
		}
	}
}

func configReconcile(format, path string) config.ReconcileConfig {
	return config.ReconcileConfig{SnapshotFormat: format, SnapshotPath: path}
}
