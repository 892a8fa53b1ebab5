package txn_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/testsupport"
	"loom/internal/txn"
	"loom/internal/vectorstore"
)

const collection = "media_content"

func newManager(t *testing.T) (*txn.Manager, *catalog.Store, *vectorstore.Memory, *cache.Memory) {
	t.Helper()
	store := testsupport.MustOpenCatalog(t, testsupport.NewConfig(t))
	vectors := vectorstore.NewMemory()
	cacheClient := cache.NewMemory()
	manager := txn.NewManager(store, vectors, cacheClient, logging.NewNop())
	return manager, store, vectors, cacheClient
}

func TestAtomicOperationCommitsAcrossStores(t *testing.T) {
	manager, store, vectors, cacheClient := newManager(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, store, "yt-commit", "Commit")

	err := manager.AtomicOperation(ctx, item.ID, "store_transcript", func(op *txn.Operation) error {
		if err := op.ReplaceTranscripts([]catalog.Segment{
			{Text: "hello world", Start: 0, End: 2},
		}, "caption"); err != nil {
			return err
		}
		points := []vectorstore.Point{{
			ID:      "chunk-1",
			Vector:  []float32{0.1, 0.2},
			Payload: map[string]any{"content_id": item.ID},
		}}
		mappings := []*catalog.VectorMapping{{ChunkID: "chunk-1", ChunkText: "hello world"}}
		if err := op.StoreVectors(collection, points, mappings); err != nil {
			return err
		}
		return op.CacheSet(fmt.Sprintf("content:%d:transcript", item.ID), "hello world", 0)
	})
	if err != nil {
		t.Fatalf("AtomicOperation: %v", err)
	}

	updated, err := store.GetContent(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if !updated.TranscriptAvailable || !updated.VectorStored {
		t.Fatalf("flags not set: %+v", updated)
	}
	if count := vectors.Count(collection); count != 1 {
		t.Fatalf("vector count %d, want 1", count)
	}
	if _, ok, _ := cacheClient.Get(ctx, fmt.Sprintf("content:%d:transcript", item.ID)); !ok {
		t.Fatal("cache key missing after commit")
	}

	logs, err := store.TransactionLogsByContent(ctx, item.ID)
	if err != nil {
		t.Fatalf("TransactionLogsByContent: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != catalog.TxSuccess {
		t.Fatalf("unexpected transaction logs %+v", logs)
	}
}

func TestFailureRollsBackAndCompensates(t *testing.T) {
	manager, store, vectors, cacheClient := newManager(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, store, "yt-rollback", "Rollback")

	// Pre-existing state across all three stores.
	if err := store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "orig-1", Collection: collection, ChunkText: "original",
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	if err := vectors.Upsert(ctx, collection, []vectorstore.Point{{
		ID: "orig-1", Vector: []float32{0.5}, Payload: map[string]any{"content_id": item.ID},
	}}); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}
	cacheKey := fmt.Sprintf("content:%d:transcript", item.ID)
	if err := cacheClient.Set(ctx, cacheKey, "original transcript", 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	boom := errors.New("embedder exploded")
	err := manager.AtomicOperation(ctx, item.ID, "update_vectors", func(op *txn.Operation) error {
		points := []vectorstore.Point{{
			ID: "new-1", Vector: []float32{0.9}, Payload: map[string]any{"content_id": item.ID},
		}}
		if err := op.StoreVectors(collection, points, []*catalog.VectorMapping{{ChunkID: "new-1"}}); err != nil {
			return err
		}
		if err := op.CacheSet(cacheKey, "new transcript", 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped body error, got %v", err)
	}

	// Vector store back to the exact pre-operation points.
	points, scrollErr := vectors.ScrollByContent(ctx, collection, item.ID)
	if scrollErr != nil {
		t.Fatalf("ScrollByContent: %v", scrollErr)
	}
	if len(points) != 1 || points[0].ID != "orig-1" {
		t.Fatalf("vector store not restored: %+v", points)
	}

	// Cache restored to its snapshotted value.
	value, ok, _ := cacheClient.Get(ctx, cacheKey)
	if !ok || value != "original transcript" {
		t.Fatalf("cache not restored: %q ok=%v", value, ok)
	}

	// Relational side rolled back: no new-1 mapping, flag still false.
	mappings, mapErr := store.MappingsByContent(ctx, item.ID)
	if mapErr != nil {
		t.Fatalf("MappingsByContent: %v", mapErr)
	}
	if len(mappings) != 1 || mappings[0].ChunkID != "orig-1" {
		t.Fatalf("mappings not rolled back: %+v", mappings)
	}
	updated, getErr := store.GetContent(ctx, item.ID)
	if getErr != nil {
		t.Fatalf("GetContent: %v", getErr)
	}
	if updated.VectorStored {
		t.Fatal("vector flag should be rolled back")
	}

	logs, logErr := store.TransactionLogsByContent(ctx, item.ID)
	if logErr != nil {
		t.Fatalf("TransactionLogsByContent: %v", logErr)
	}
	if len(logs) != 1 || logs[0].Status != catalog.TxRolledBack {
		t.Fatalf("unexpected transaction logs %+v", logs)
	}
	if logs[0].ErrorMessage == "" {
		t.Fatal("rolled back log should carry the failure message")
	}
}

// brokenDeletes delegates to Memory but cannot delete, so compensation
// cannot clear the touched collection.
type brokenDeletes struct {
	*vectorstore.Memory
}

func (b *brokenDeletes) DeleteByContent(context.Context, string, int64) error {
	return errors.New("qdrant unreachable")
}

func TestCompensationFailureMarksTransactionFailed(t *testing.T) {
	store := testsupport.MustOpenCatalog(t, testsupport.NewConfig(t))
	vectors := &brokenDeletes{Memory: vectorstore.NewMemory()}
	manager := txn.NewManager(store, vectors, cache.NewMemory(), logging.NewNop())
	ctx := context.Background()
	item := testsupport.NewContent(t, store, "yt-comp-fail", "CompFail")

	boom := errors.New("body failed")
	err := manager.AtomicOperation(ctx, item.ID, "store_vectors", func(op *txn.Operation) error {
		points := []vectorstore.Point{{
			ID: "p1", Payload: map[string]any{"content_id": item.ID},
		}}
		if err := op.StoreVectors(collection, points, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped body error, got %v", err)
	}

	logs, logErr := store.TransactionLogsByContent(ctx, item.ID)
	if logErr != nil {
		t.Fatalf("TransactionLogsByContent: %v", logErr)
	}
	if len(logs) != 1 || logs[0].Status != catalog.TxFailed {
		t.Fatalf("expected failed transaction log, got %+v", logs)
	}
}
