package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memoryValue struct {
	kind      Kind
	value     string
	list      []string
	hash      map[string]string
	set       map[string]struct{}
	expiresAt time.Time
}

// Memory is an in-process Client used by tests and by deployments that run
// without Redis.
type Memory struct {
	mu   sync.Mutex
	data map[string]*memoryValue
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*memoryValue)}
}

func (m *Memory) get(key string) (*memoryValue, bool) {
	val, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if !val.expiresAt.IsZero() && time.Now().After(val.expiresAt) {
		delete(m.data, key)
		return nil, false
	}
	return val, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.get(key)
	if !ok || val.kind != KindString {
		return "", false, nil
	}
	return val.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &memoryValue{kind: KindString, value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if _, ok := m.get(key); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, key := range keys {
		if _, ok := m.get(key); ok {
			delete(m.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Snapshot(ctx context.Context, patterns []string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var entries []Entry
	for _, pattern := range patterns {
		for key := range m.data {
			if seen[key] {
				continue
			}
			matched, _ := path.Match(pattern, key)
			if !matched {
				continue
			}
			val, ok := m.get(key)
			if !ok {
				continue
			}
			seen[key] = true
			entries = append(entries, entryFromMemory(key, val))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *Memory) Restore(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		val := &memoryValue{kind: entry.Kind, value: entry.Value}
		if len(entry.List) > 0 {
			val.list = append([]string(nil), entry.List...)
		}
		if len(entry.Hash) > 0 {
			val.hash = make(map[string]string, len(entry.Hash))
			for k, v := range entry.Hash {
				val.hash[k] = v
			}
		}
		if len(entry.Set) > 0 {
			val.set = make(map[string]struct{}, len(entry.Set))
			for _, member := range entry.Set {
				val.set[member] = struct{}{}
			}
		}
		if entry.TTL > 0 {
			val.expiresAt = time.Now().Add(entry.TTL)
		}
		m.data[entry.Key] = val
	}
	return nil
}

func (m *Memory) PushCapped(_ context.Context, key, value string, max int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.get(key)
	if !ok || val.kind != KindList {
		val = &memoryValue{kind: KindList}
		m.data[key] = val
	}
	val.list = append([]string{value}, val.list...)
	if max > 0 && int64(len(val.list)) > max {
		val.list = val.list[:max]
	}
	return nil
}

func (m *Memory) List(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.get(key)
	if !ok || val.kind != KindList {
		return nil, nil
	}
	return append([]string(nil), val.list...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func entryFromMemory(key string, val *memoryValue) Entry {
	entry := Entry{Key: key, Kind: val.kind, Value: val.value}
	if !val.expiresAt.IsZero() {
		if remaining := time.Until(val.expiresAt); remaining > 0 {
			entry.TTL = remaining
		}
	}
	if len(val.list) > 0 {
		entry.List = append([]string(nil), val.list...)
	}
	if len(val.hash) > 0 {
		entry.Hash = make(map[string]string, len(val.hash))
		for k, v := range val.hash {
			entry.Hash[k] = v
		}
	}
	if len(val.set) > 0 {
		entry.Set = make([]string, 0, len(val.set))
		for member := range val.set {
			entry.Set = append(entry.Set, member)
		}
		sort.Strings(entry.Set)
	}
	return entry
}
