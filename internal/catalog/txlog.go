package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTransactionLog records a new pending transaction log entry.
func (s *Store) CreateTransactionLog(ctx context.Context, entry *TransactionLog) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = TxPending
	}

	res, err := s.execWithRetry(ctx, `
INSERT INTO transaction_logs (transaction_id, content_id, operation, status, snapshot, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TransactionID, entry.ContentID, entry.Operation, entry.Status,
		nullableString(entry.Snapshot), nullableString(entry.ErrorMessage),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert transaction log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction log insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// UpdateTransactionStatus moves a transaction log entry to a terminal status,
// optionally recording the error that caused a rollback.
func (s *Store) UpdateTransactionStatus(ctx context.Context, transactionID, status, errorMessage string) error {
	if _, err := s.execWithRetry(ctx, `
UPDATE transaction_logs SET status = ?, error_message = ?, updated_at = ?
WHERE transaction_id = ?`,
		status, nullableString(errorMessage), formatTime(time.Now()), transactionID); err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	return nil
}

// GetTransactionLog loads a transaction log entry by its transaction ID.
func (s *Store) GetTransactionLog(ctx context.Context, transactionID string) (*TransactionLog, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, transaction_id, content_id, operation, status, snapshot, error_message, created_at, updated_at
FROM transaction_logs WHERE transaction_id = ?`, transactionID)
	return scanTransactionLog(row)
}

// TransactionLogsByContent returns transaction log entries for a content item,
// newest first.
func (s *Store) TransactionLogsByContent(ctx context.Context, contentID int64) ([]*TransactionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, transaction_id, content_id, operation, status, snapshot, error_message, created_at, updated_at
FROM transaction_logs WHERE content_id = ? ORDER BY id DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list transaction logs: %w", err)
	}
	defer rows.Close()

	var entries []*TransactionLog
	for rows.Next() {
		entry, scanErr := scanTransactionLog(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanTransactionLog(row interface{ Scan(...any) error }) (*TransactionLog, error) {
	var (
		entry                  TransactionLog
		snapshot, errorMessage sql.NullString
		createdRaw, updatedRaw string
	)
	err := row.Scan(&entry.ID, &entry.TransactionID, &entry.ContentID, &entry.Operation,
		&entry.Status, &snapshot, &errorMessage, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction log: %w", err)
	}
	entry.Snapshot = snapshot.String
	entry.ErrorMessage = errorMessage.String
	if t, parseErr := parseTimeString(createdRaw); parseErr == nil {
		entry.CreatedAt = t
	}
	if t, parseErr := parseTimeString(updatedRaw); parseErr == nil {
		entry.UpdatedAt = t
	}
	return &entry, nil
}
