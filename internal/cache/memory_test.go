package cache_test

import (
	"context"
	"testing"
	"time"

	"loom/internal/cache"
)

func TestMemorySnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()

	if err := mem.Set(ctx, "content:7:transcript", "cached transcript", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mem.Set(ctx, "processing:7:status", "vectorizing", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mem.Set(ctx, "content:8:transcript", "other content", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entries, err := mem.Snapshot(ctx, cache.ContentPatterns(7))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("snapshot captured %d entries, want 2", len(entries))
	}

	// Mutate and delete, then restore the snapshot.
	if err := mem.Set(ctx, "content:7:transcript", "corrupted", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := mem.Delete(ctx, "processing:7:status"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mem.Restore(ctx, entries); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	value, ok, err := mem.Get(ctx, "content:7:transcript")
	if err != nil || !ok {
		t.Fatalf("Get after restore: %v ok=%v", err, ok)
	}
	if value != "cached transcript" {
		t.Fatalf("restored value %q", value)
	}
	if _, ok, _ := mem.Get(ctx, "processing:7:status"); !ok {
		t.Fatal("deleted key not restored")
	}

	// Content 8 was outside the patterns and untouched.
	value, ok, _ = mem.Get(ctx, "content:8:transcript")
	if !ok || value != "other content" {
		t.Fatalf("unrelated key disturbed: %q ok=%v", value, ok)
	}
}

func TestMemoryKeysMatchesGlob(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	for _, key := range []string{"content:1:a", "content:1:b", "content:12:a", "other"} {
		if err := mem.Set(ctx, key, "x", 0); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	keys, err := mem.Keys(ctx, "content:1:*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("matched %d keys, want 2: %v", len(keys), keys)
	}
}

func TestMemoryPushCappedTrimsOldest(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()

	for i := 0; i < 5; i++ {
		value := string(rune('a' + i))
		if err := mem.PushCapped(ctx, "alerts", value, 3); err != nil {
			t.Fatalf("PushCapped: %v", err)
		}
	}

	values, err := mem.List(ctx, "alerts")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("list length %d, want 3", len(values))
	}
	// Newest first.
	if values[0] != "e" || values[2] != "c" {
		t.Fatalf("unexpected order %v", values)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	if err := mem.Set(ctx, "short", "v", time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := mem.Get(ctx, "short"); ok {
		t.Fatal("expired key still readable")
	}
}
