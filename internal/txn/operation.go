package txn

import (
	"context"
	"database/sql"
	"time"

	"loom/internal/catalog"
	"loom/internal/vectorstore"
)

// Operation is the handle a body function uses to mutate the stores inside
// an atomic operation. Relational writes go through the shared transaction;
// vector and cache writes apply immediately and are tracked so the manager
// knows what to compensate.
type Operation struct {
	ctx           context.Context
	manager       *Manager
	contentID     int64
	tx            *sql.Tx
	touchedVector map[string]bool
	touchedCache  bool
}

// ContentID returns the content item this operation is bound to.
func (op *Operation) ContentID() int64 {
	return op.contentID
}

// Tx exposes the relational transaction for writes the helpers do not cover.
func (op *Operation) Tx() *sql.Tx {
	return op.tx
}

// ReplaceTranscripts swaps the stored transcript and marks the transcript
// flag, all inside the relational transaction.
func (op *Operation) ReplaceTranscripts(segments []catalog.Segment, transcriptType string) error {
	if err := op.manager.store.ReplaceTranscriptsTx(op.ctx, op.tx, op.contentID, segments); err != nil {
		return err
	}
	return op.manager.store.SetTranscriptAvailableTx(op.ctx, op.tx, op.contentID, len(segments) > 0, transcriptType)
}

// StoreVectors upserts points into the collection, records their mappings,
// and sets the vector flag. The vector write is immediate; failure later in
// the operation compensates it from the snapshot.
func (op *Operation) StoreVectors(collection string, points []vectorstore.Point, mappings []*catalog.VectorMapping) error {
	op.touchedVector[collection] = true
	if err := op.manager.vectors.Upsert(op.ctx, collection, points); err != nil {
		return err
	}
	for _, mapping := range mappings {
		mapping.ContentID = op.contentID
		mapping.Collection = collection
		if err := op.manager.store.UpsertMappingTx(op.ctx, op.tx, mapping); err != nil {
			return err
		}
	}
	return op.manager.store.SetVectorStoredTx(op.ctx, op.tx, op.contentID, true)
}

// RemoveVectors deletes the content's points from the collection, drops
// their mappings, and clears the vector flag.
func (op *Operation) RemoveVectors(collection string) error {
	op.touchedVector[collection] = true
	if err := op.manager.vectors.DeleteByContent(op.ctx, collection, op.contentID); err != nil {
		return err
	}
	if err := op.manager.store.DeleteMappingsByContentTx(op.ctx, op.tx, op.contentID); err != nil {
		return err
	}
	return op.manager.store.SetVectorStoredTx(op.ctx, op.tx, op.contentID, false)
}

// CacheSet writes a derived value for this content into the cache.
func (op *Operation) CacheSet(key, value string, ttl time.Duration) error {
	op.touchedCache = true
	return op.manager.cache.Set(op.ctx, key, value, ttl)
}

// InvalidateCache drops every cached key derived from this content.
func (op *Operation) InvalidateCache() error {
	op.touchedCache = true
	keys, err := op.manager.keysForContent(op.ctx, op.contentID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = op.manager.cache.Delete(op.ctx, keys...)
	return err
}
