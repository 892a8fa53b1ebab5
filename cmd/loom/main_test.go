package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestConfigInitWritesSampleFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	// Sample must round-trip through the loader.
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when target exists without --overwrite")
	}
	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out, err := runCLI(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "defaults were used") {
		t.Fatalf("expected defaults notice, got %q", out)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("expected validity confirmation, got %q", out)
	}
}

func TestQueueDepthRowsSkipsZeroCounts(t *testing.T) {
	rows := queueDepthRows(map[string]int{
		"pending":    2,
		"processing": 0,
		"failed":     1,
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "failed" || rows[0][1] != "1" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1][0] != "pending" || rows[1][1] != "2" {
		t.Fatalf("unexpected second row: %v", rows[1])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected result: %q", got)
	}
	if got := truncate("a longer message", 10); got != "a longe..." {
		t.Fatalf("unexpected result: %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected result: %q", got)
	}
}
