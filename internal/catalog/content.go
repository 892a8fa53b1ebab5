package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("catalog: not found")

const contentColumns = `id, external_id, title, source_url, duration_seconds, language,
transcript_available, transcript_type, vector_stored, is_active, processed_at, created_at, updated_at`

// CreateContent inserts a new content row and sets its ID and timestamps.
func (s *Store) CreateContent(ctx context.Context, item *Content) error {
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Language == "" {
		item.Language = "en"
	}

	res, err := s.execWithRetry(ctx, `
INSERT INTO content (external_id, title, source_url, duration_seconds, language,
	transcript_available, transcript_type, vector_stored, is_active, processed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ExternalID, item.Title, item.SourceURL, item.DurationSeconds, item.Language,
		boolToInt(item.TranscriptAvailable), nullableString(item.TranscriptType),
		boolToInt(item.VectorStored), boolToInt(item.IsActive),
		nullableTime(item.ProcessedAt), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("content insert id: %w", err)
	}
	item.ID = id
	return nil
}

// GetContent loads one content row by ID.
func (s *Store) GetContent(ctx context.Context, id int64) (*Content, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content WHERE id = ?`, id)
	return scanContent(row)
}

// GetContentByExternalID loads one content row by its source identifier.
func (s *Store) GetContentByExternalID(ctx context.Context, externalID string) (*Content, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content WHERE external_id = ?`, externalID)
	return scanContent(row)
}

// ListContent returns content rows, optionally restricted to active items,
// ordered by ID.
func (s *Store) ListContent(ctx context.Context, activeOnly bool) ([]*Content, error) {
	query := `SELECT ` + contentColumns + ` FROM content`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []*Content
	for rows.Next() {
		item, scanErr := scanContent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetTranscriptAvailable updates the transcript flag and type for a content
// row. An empty transcriptType leaves the stored type untouched.
func (s *Store) SetTranscriptAvailable(ctx context.Context, id int64, available bool, transcriptType string) error {
	now := formatTime(time.Now())
	var err error
	if transcriptType == "" {
		_, err = s.execWithRetry(ctx,
			`UPDATE content SET transcript_available = ?, updated_at = ? WHERE id = ?`,
			boolToInt(available), now, id)
	} else {
		_, err = s.execWithRetry(ctx,
			`UPDATE content SET transcript_available = ?, transcript_type = ?, updated_at = ? WHERE id = ?`,
			boolToInt(available), transcriptType, now, id)
	}
	if err != nil {
		return fmt.Errorf("update transcript flag: %w", err)
	}
	return nil
}

// SetVectorStored updates the vector flag for a content row.
func (s *Store) SetVectorStored(ctx context.Context, id int64, stored bool) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE content SET vector_stored = ?, updated_at = ? WHERE id = ?`,
		boolToInt(stored), formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("update vector flag: %w", err)
	}
	return nil
}

// SetTranscriptAvailableTx is SetTranscriptAvailable within a caller-owned
// transaction.
func (s *Store) SetTranscriptAvailableTx(ctx context.Context, tx *sql.Tx, id int64, available bool, transcriptType string) error {
	now := formatTime(time.Now())
	var err error
	if transcriptType == "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE content SET transcript_available = ?, updated_at = ? WHERE id = ?`,
			boolToInt(available), now, id)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE content SET transcript_available = ?, transcript_type = ?, updated_at = ? WHERE id = ?`,
			boolToInt(available), transcriptType, now, id)
	}
	if err != nil {
		return fmt.Errorf("update transcript flag: %w", err)
	}
	return nil
}

// SetVectorStoredTx is SetVectorStored within a caller-owned transaction.
func (s *Store) SetVectorStoredTx(ctx context.Context, tx *sql.Tx, id int64, stored bool) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE content SET vector_stored = ?, updated_at = ? WHERE id = ?`,
		boolToInt(stored), formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("update vector flag: %w", err)
	}
	return nil
}

// MarkProcessed stamps processed_at for a content row.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE content SET processed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// DeleteContent removes a content row together with its transcripts and
// vector mappings. Vector store cleanup is the caller's responsibility.
func (s *Store) DeleteContent(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete content: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM transcripts WHERE content_id = ?`,
		`DELETE FROM vector_mappings WHERE content_id = ?`,
		`DELETE FROM content WHERE id = ?`,
	} {
		if _, execErr := tx.ExecContext(ctx, stmt, id); execErr != nil {
			return fmt.Errorf("delete content %d: %w", id, execErr)
		}
	}
	return tx.Commit()
}

func scanContent(row interface{ Scan(...any) error }) (*Content, error) {
	var (
		item                          Content
		transcriptAvail, vectorStored int
		isActive                      int
		transcriptType, processedAt   sql.NullString
		createdRaw, updatedRaw        string
	)
	err := row.Scan(&item.ID, &item.ExternalID, &item.Title, &item.SourceURL,
		&item.DurationSeconds, &item.Language, &transcriptAvail, &transcriptType,
		&vectorStored, &isActive, &processedAt, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan content: %w", err)
	}

	item.TranscriptAvailable = transcriptAvail != 0
	item.VectorStored = vectorStored != 0
	item.IsActive = isActive != 0
	item.TranscriptType = transcriptType.String
	if processedAt.Valid {
		if t, parseErr := parseTimeString(processedAt.String); parseErr == nil {
			item.ProcessedAt = &t
		}
	}
	if t, parseErr := parseTimeString(createdRaw); parseErr == nil {
		item.CreatedAt = t
	}
	if t, parseErr := parseTimeString(updatedRaw); parseErr == nil {
		item.UpdatedAt = t
	}
	return &item, nil
}
