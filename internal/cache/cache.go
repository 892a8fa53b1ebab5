package cache

import (
	"context"
	"strconv"
	"time"
)

// Kind is the value type of a cached entry.
type Kind string

const (
	KindString Kind = "string"
	KindList   Kind = "list"
	KindHash   Kind = "hash"
	KindSet    Kind = "set"
)

// Entry is a point-in-time copy of one cache key, rich enough to restore the
// key exactly during compensation.
type Entry struct {
	Key   string
	Kind  Kind
	Value string
	List  []string
	Hash  map[string]string
	Set   []string
	TTL   time.Duration
}

// Client is the cache surface the pipeline needs. Redis backs it in
// production; Memory backs it in tests.
type Client interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Snapshot captures every key matching the patterns with its full typed
	// value, and Restore puts those keys back, replacing whatever is there.
	Snapshot(ctx context.Context, patterns []string) ([]Entry, error)
	Restore(ctx context.Context, entries []Entry) error

	// PushCapped prepends a value to a list and trims it to at most max
	// entries, newest first.
	PushCapped(ctx context.Context, key, value string, max int64) error
	List(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// ContentPatterns returns the cache key patterns invalidated or snapshotted
// for one content item.
func ContentPatterns(contentID int64) []string {
	id := strconv.FormatInt(contentID, 10)
	return []string{
		"content:" + id + ":*",
		"processing:" + id + ":*",
		"cache:content:" + id + ":*",
	}
}
