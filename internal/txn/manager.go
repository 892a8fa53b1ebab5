package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/logging"
	"loom/internal/vectorstore"
)

// Manager runs atomic cross-store operations. The relational side rides a
// real SQLite transaction; vector and cache writes apply immediately and are
// undone from a pre-operation snapshot when the operation fails. Every run
// leaves a transaction log row, and a compensation failure marks the row
// failed so the integrity reconciler repairs the stores later.
type Manager struct {
	store   *catalog.Store
	vectors vectorstore.Client
	cache   cache.Client
	logger  *slog.Logger
}

// NewManager wires a transaction manager over the three stores.
func NewManager(store *catalog.Store, vectors vectorstore.Client, cacheClient cache.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		vectors: vectors,
		cache:   cacheClient,
		logger:  logger.With(logging.String(logging.FieldComponent, "txn")),
	}
}

// VectorClient exposes the underlying vector store client for collection
// management outside atomic operations.
func (m *Manager) VectorClient() vectorstore.Client {
	return m.vectors
}

// Snapshot is the serialized pre-operation state stored in the transaction
// log and used for compensation.
type Snapshot struct {
	DB     DBSnapshot                     `json:"db"`
	Vector map[string][]vectorstore.Point `json:"vector"`
	Cache  []cache.Entry                  `json:"cache"`
}

// DBSnapshot records the relational state that matters for later repair.
// The SQLite transaction itself restores rows on rollback; this copy exists
// so the reconciler can audit what the operation saw.
type DBSnapshot struct {
	TranscriptAvailable bool   `json:"transcript_available"`
	TranscriptType      string `json:"transcript_type,omitempty"`
	VectorStored        bool   `json:"vector_stored"`
	TranscriptCount     int    `json:"transcript_count"`
	MappingCount        int    `json:"mapping_count"`
}

// AtomicOperation snapshots the stores touched for contentID, runs body, and
// either commits everything or rolls the relational transaction back and
// compensates the vector store and cache from the snapshot. The body's error
// is returned wrapped, so callers can still classify it.
func (m *Manager) AtomicOperation(ctx context.Context, contentID int64, operation string, body func(op *Operation) error) error {
	txID := fmt.Sprintf("%s_%d_%s", operation, contentID, shortID())
	logger := m.logger.With(
		logging.String(logging.FieldTransactionID, txID),
		logging.Int64(logging.FieldContentID, contentID),
	)

	snapshot, err := m.captureSnapshot(ctx, contentID)
	if err != nil {
		return fmt.Errorf("capture snapshot for %s: %w", txID, err)
	}
	encodedSnapshot, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", txID, err)
	}

	entry := &catalog.TransactionLog{
		TransactionID: txID,
		ContentID:     contentID,
		Operation:     operation,
		Snapshot:      string(encodedSnapshot),
	}
	if err := m.store.CreateTransactionLog(ctx, entry); err != nil {
		return fmt.Errorf("record transaction %s: %w", txID, err)
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		m.markStatus(ctx, txID, catalog.TxRolledBack, err.Error())
		return fmt.Errorf("begin transaction %s: %w", txID, err)
	}

	op := &Operation{
		ctx:           ctx,
		manager:       m,
		contentID:     contentID,
		tx:            tx,
		touchedVector: make(map[string]bool),
	}

	runErr := body(op)
	if runErr == nil {
		runErr = tx.Commit()
		if runErr != nil {
			runErr = fmt.Errorf("commit: %w", runErr)
		}
	}
	if runErr == nil {
		m.markStatus(ctx, txID, catalog.TxSuccess, "")
		logger.Debug("transaction committed", logging.String("operation", operation))
		return nil
	}

	_ = tx.Rollback()
	logger.Warn("transaction failed, compensating",
		logging.String("operation", operation),
		logging.Error(runErr))

	if compErr := m.compensate(ctx, contentID, snapshot, op); compErr != nil {
		m.markStatus(ctx, txID, catalog.TxFailed,
			fmt.Sprintf("%s; compensation: %s", runErr, compErr))
		logger.Error("compensation failed, stores may be inconsistent",
			logging.Error(compErr))
		return fmt.Errorf("transaction %s failed and compensation incomplete: %w", txID, runErr)
	}

	m.markStatus(ctx, txID, catalog.TxRolledBack, runErr.Error())
	return fmt.Errorf("transaction %s rolled back: %w", txID, runErr)
}

func (m *Manager) captureSnapshot(ctx context.Context, contentID int64) (*Snapshot, error) {
	snapshot := &Snapshot{Vector: make(map[string][]vectorstore.Point)}

	content, err := m.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("snapshot content: %w", err)
	}
	snapshot.DB.TranscriptAvailable = content.TranscriptAvailable
	snapshot.DB.TranscriptType = content.TranscriptType
	snapshot.DB.VectorStored = content.VectorStored
	if snapshot.DB.TranscriptCount, err = m.store.CountTranscripts(ctx, contentID); err != nil {
		return nil, err
	}
	if snapshot.DB.MappingCount, err = m.store.CountMappings(ctx, contentID); err != nil {
		return nil, err
	}

	mappings, err := m.store.MappingsByContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	collections := make(map[string]bool)
	for _, mapping := range mappings {
		collections[mapping.Collection] = true
	}
	for collection := range collections {
		points, scrollErr := m.vectors.ScrollByContent(ctx, collection, contentID)
		if scrollErr != nil {
			return nil, fmt.Errorf("snapshot vectors in %s: %w", collection, scrollErr)
		}
		snapshot.Vector[collection] = points
	}

	if snapshot.Cache, err = m.cache.Snapshot(ctx, cache.ContentPatterns(contentID)); err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return snapshot, nil
}

// compensate restores the vector collections and cache keys the operation
// touched to their snapshotted state. Collections the operation wrote to but
// that had no snapshot are wiped back to empty for this content.
func (m *Manager) compensate(ctx context.Context, contentID int64, snapshot *Snapshot, op *Operation) error {
	var failures []string

	collections := make(map[string]bool, len(op.touchedVector))
	for collection := range op.touchedVector {
		collections[collection] = true
	}
	for collection := range snapshot.Vector {
		if op.touchedVector[collection] {
			collections[collection] = true
		}
	}
	for collection := range collections {
		if err := m.vectors.DeleteByContent(ctx, collection, contentID); err != nil {
			failures = append(failures, fmt.Sprintf("clear %s: %s", collection, err))
			continue
		}
		if points := snapshot.Vector[collection]; len(points) > 0 {
			if err := m.vectors.Upsert(ctx, collection, points); err != nil {
				failures = append(failures, fmt.Sprintf("restore %s: %s", collection, err))
			}
		}
	}

	if op.touchedCache {
		keys, err := m.keysForContent(ctx, contentID)
		if err != nil {
			failures = append(failures, fmt.Sprintf("list cache keys: %s", err))
		} else if len(keys) > 0 {
			if _, err := m.cache.Delete(ctx, keys...); err != nil {
				failures = append(failures, fmt.Sprintf("clear cache: %s", err))
			}
		}
		if len(snapshot.Cache) > 0 {
			if err := m.cache.Restore(ctx, snapshot.Cache); err != nil {
				failures = append(failures, fmt.Sprintf("restore cache: %s", err))
			}
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("compensation errors: %s", strings.Join(failures, "; "))
	}
	return nil
}

func (m *Manager) keysForContent(ctx context.Context, contentID int64) ([]string, error) {
	var keys []string
	for _, pattern := range cache.ContentPatterns(contentID) {
		matched, err := m.cache.Keys(ctx, pattern)
		if err != nil {
			return nil, err
		}
		keys = append(keys, matched...)
	}
	return keys, nil
}

func (m *Manager) markStatus(ctx context.Context, txID, status, message string) {
	if err := m.store.UpdateTransactionStatus(ctx, txID, status, message); err != nil {
		m.logger.Error("update transaction status",
			logging.String(logging.FieldTransactionID, txID),
			logging.Error(err))
	}
}

func shortID() string {
	id := uuid.NewString()
	return strings.ReplaceAll(id, "-", "")[:8]
}
