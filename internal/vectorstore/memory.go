package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Client used by tests.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]Point
}

// NewMemory returns an empty in-memory vector store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Point)}
}

func (m *Memory) collection(name string) map[string]Point {
	points, ok := m.collections[name]
	if !ok {
		points = make(map[string]Point)
		m.collections[name] = points
	}
	return points
}

func (m *Memory) EnsureCollection(_ context.Context, collection string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.collection(collection)
	for _, point := range points {
		stored[point.ID] = point
	}
	return nil
}

func (m *Memory) DeletePoints(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.collection(collection)
	for _, id := range ids {
		delete(stored, id)
	}
	return nil
}

func (m *Memory) DeleteByContent(_ context.Context, collection string, contentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.collection(collection)
	for id, point := range stored {
		if owner, ok := point.ContentID(); ok && owner == contentID {
			delete(stored, id)
		}
	}
	return nil
}

func (m *Memory) ScrollByContent(_ context.Context, collection string, contentID int64) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var points []Point
	for _, point := range m.collection(collection) {
		if owner, ok := point.ContentID(); ok && owner == contentID {
			points = append(points, point)
		}
	}
	sortPoints(points)
	return points, nil
}

func (m *Memory) ScrollAll(_ context.Context, collection string) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.collection(collection)
	points := make([]Point, 0, len(stored))
	for _, point := range stored {
		points = append(points, point)
	}
	sortPoints(points)
	return points, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Count reports how many points a collection holds, for test assertions.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collection(collection))
}

func sortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
}
