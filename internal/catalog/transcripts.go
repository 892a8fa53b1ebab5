package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReplaceTranscripts swaps the stored transcript segments for a content item
// in a single transaction.
func (s *Store) ReplaceTranscripts(ctx context.Context, contentID int64, segments []Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace transcripts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ReplaceTranscriptsTx(ctx, tx, contentID, segments); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceTranscriptsTx is ReplaceTranscripts within a caller-owned
// transaction, used by atomic cross-store operations.
func (s *Store) ReplaceTranscriptsTx(ctx context.Context, tx *sql.Tx, contentID int64, segments []Segment) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transcripts WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("clear transcripts: %w", err)
	}

	now := formatTime(time.Now())
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO transcripts (content_id, segment_text, start_time, end_time, segment_order, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transcript insert: %w", err)
	}
	defer stmt.Close()

	for order, segment := range segments {
		if _, err := stmt.ExecContext(ctx, contentID, segment.Text,
			segment.Start, segment.End, order, now); err != nil {
			return fmt.Errorf("insert transcript segment %d: %w", order, err)
		}
	}
	return nil
}

// TranscriptsByContent returns transcript segments for a content item in
// segment order.
func (s *Store) TranscriptsByContent(ctx context.Context, contentID int64) ([]*Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, content_id, segment_text, start_time, end_time, segment_order, created_at
FROM transcripts WHERE content_id = ? ORDER BY segment_order, id`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var segments []*Transcript
	for rows.Next() {
		var (
			seg        Transcript
			createdRaw string
		)
		if err := rows.Scan(&seg.ID, &seg.ContentID, &seg.SegmentText,
			&seg.StartTime, &seg.EndTime, &seg.SegmentOrder, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if t, parseErr := parseTimeString(createdRaw); parseErr == nil {
			seg.CreatedAt = t
		}
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}

// CountTranscripts returns the number of stored segments for a content item.
func (s *Store) CountTranscripts(ctx context.Context, contentID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcripts WHERE content_id = ?`, contentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return count, nil
}

// DeleteTranscripts removes all transcript segments for a content item.
func (s *Store) DeleteTranscripts(ctx context.Context, contentID int64) error {
	if _, err := s.execWithRetry(ctx,
		`DELETE FROM transcripts WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("delete transcripts: %w", err)
	}
	return nil
}

// CountOrphanTranscripts counts transcript segments whose content row no
// longer exists, ignoring rows created after the cutoff so in-flight
// creation is not mistaken for an orphan.
func (s *Store) CountOrphanTranscripts(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM transcripts
WHERE content_id NOT IN (SELECT id FROM content)
  AND created_at < ?`, formatTime(before)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orphan transcripts: %w", err)
	}
	return count, nil
}

// DeleteOrphanTranscripts removes transcript segments whose content row no
// longer exists and returns how many were deleted. Rows created after the
// cutoff are kept.
func (s *Store) DeleteOrphanTranscripts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `
DELETE FROM transcripts
WHERE content_id NOT IN (SELECT id FROM content)
  AND created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("delete orphan transcripts: %w", err)
	}
	return res.RowsAffected()
}
