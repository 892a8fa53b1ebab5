package testsupport

import (
	"context"
	"testing"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/queue"
)

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewQueue layers a job queue on the catalog database for tests.
func NewQueue(t testing.TB, store *catalog.Store) *queue.Store {
	t.Helper()
	return queue.NewStore(store.DB())
}

// NewContent creates an active content row for tests using the provided
// store.
func NewContent(t testing.TB, store *catalog.Store, externalID, title string) *catalog.Content {
	t.Helper()

	item := &catalog.Content{
		ExternalID: externalID,
		Title:      title,
		SourceURL:  "https://example.com/watch/" + externalID,
		IsActive:   true,
	}
	if err := store.CreateContent(context.Background(), item); err != nil {
		t.Fatalf("store.CreateContent: %v", err)
	}
	return item
}

// Exec runs a raw statement against the shared database, for tests that need
// to shape rows (backdated timestamps, legacy values) beyond the store API.
func Exec(t testing.TB, store *catalog.Store, query string, args ...any) {
	t.Helper()

	if _, err := store.DB().Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
