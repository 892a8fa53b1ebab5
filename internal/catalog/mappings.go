package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertMapping records a vector point for a content item. An existing row
// with the same (content_id, chunk_id) is refreshed in place.
func (s *Store) UpsertMapping(ctx context.Context, mapping *VectorMapping) error {
	return s.upsertMapping(ctx, s.db, mapping)
}

// UpsertMappingTx is UpsertMapping within a caller-owned transaction.
func (s *Store) UpsertMappingTx(ctx context.Context, tx *sql.Tx, mapping *VectorMapping) error {
	return s.upsertMapping(ctx, tx, mapping)
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertMapping(ctx context.Context, db execContexter, mapping *VectorMapping) error {
	now := time.Now().UTC()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = now
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO vector_mappings (content_id, chunk_id, vector_collection, chunk_text, chunk_order, chunk_metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(content_id, chunk_id) DO UPDATE SET
	vector_collection = excluded.vector_collection,
	chunk_text = excluded.chunk_text,
	chunk_order = excluded.chunk_order,
	chunk_metadata = excluded.chunk_metadata`,
		mapping.ContentID, mapping.ChunkID, mapping.Collection, mapping.ChunkText,
		mapping.ChunkOrder, nullableString(mapping.Metadata), formatTime(mapping.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert vector mapping: %w", err)
	}
	return nil
}

// MappingsByContent returns vector mappings for a content item in chunk
// order.
func (s *Store) MappingsByContent(ctx context.Context, contentID int64) ([]*VectorMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, content_id, chunk_id, vector_collection, chunk_text, chunk_order, chunk_metadata, created_at
FROM vector_mappings WHERE content_id = ? ORDER BY chunk_order, id`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list vector mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

// CountMappings returns the number of recorded vector points for a content
// item.
func (s *Store) CountMappings(ctx context.Context, contentID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_mappings WHERE content_id = ?`, contentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vector mappings: %w", err)
	}
	return count, nil
}

// DeleteMappingsByContent removes all vector mappings for a content item.
func (s *Store) DeleteMappingsByContent(ctx context.Context, contentID int64) error {
	if _, err := s.execWithRetry(ctx,
		`DELETE FROM vector_mappings WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("delete vector mappings: %w", err)
	}
	return nil
}

// DeleteMappingsByContentTx is DeleteMappingsByContent within a caller-owned
// transaction.
func (s *Store) DeleteMappingsByContentTx(ctx context.Context, tx *sql.Tx, contentID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vector_mappings WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("delete vector mappings: %w", err)
	}
	return nil
}

// DeleteMappingsByChunkIDs removes specific vector mappings for a content
// item.
func (s *Store) DeleteMappingsByChunkIDs(ctx context.Context, contentID int64, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(chunkIDs)+1)
	args = append(args, contentID)
	for _, chunkID := range chunkIDs {
		args = append(args, chunkID)
	}
	query := `DELETE FROM vector_mappings WHERE content_id = ? AND chunk_id IN (` +
		makePlaceholders(len(chunkIDs)) + `)`
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("delete vector mappings by chunk: %w", err)
	}
	return nil
}

func scanMappings(rows *sql.Rows) ([]*VectorMapping, error) {
	var mappings []*VectorMapping
	for rows.Next() {
		var (
			mapping    VectorMapping
			metadata   sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&mapping.ID, &mapping.ContentID, &mapping.ChunkID,
			&mapping.Collection, &mapping.ChunkText, &mapping.ChunkOrder,
			&metadata, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan vector mapping: %w", err)
		}
		mapping.Metadata = metadata.String
		if t, parseErr := parseTimeString(createdRaw); parseErr == nil {
			mapping.CreatedAt = t
		}
		mappings = append(mappings, &mapping)
	}
	return mappings, rows.Err()
}

// CountOrphanMappings counts vector mappings whose content row no longer
// exists, ignoring rows created after the cutoff.
func (s *Store) CountOrphanMappings(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM vector_mappings
WHERE content_id NOT IN (SELECT id FROM content)
  AND created_at < ?`, formatTime(before)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orphan vector mappings: %w", err)
	}
	return count, nil
}

// DeleteOrphanMappings removes vector mappings whose content row no longer
// exists and returns how many were deleted. Rows created after the cutoff
// are kept.
func (s *Store) DeleteOrphanMappings(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `
DELETE FROM vector_mappings
WHERE content_id NOT IN (SELECT id FROM content)
  AND created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("delete orphan vector mappings: %w", err)
	}
	return res.RowsAffected()
}
