package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/storage"
)

const (
	outboxDeadLetterThreshold = 8
	outboxProcessingLease     = 2 * time.Minute
)

// ClaimOutboxDue claims up to limit due outbox rows for publishing. Rows
// stuck in processing past the lease are reclaimed so a crashed worker
// cannot strand them.
func (s *Store) ClaimOutboxDue(ctx context.Context, now time.Time, limit int) ([]storage.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-outboxProcessingLease)
	rows, err := tx.QueryContext(
		ctx,
		`SELECT global_seq, event_type, attempt_count
		 FROM bus_outbox
		 WHERE (
		     status IN ('pending', 'failed') AND next_attempt_at <= ?
		 ) OR (
		     status = 'processing' AND updated_at <= ?
		 )
		 ORDER BY next_attempt_at, global_seq
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	defer rows.Close()

	candidates := make([]storage.OutboxEntry, 0, limit)
	for rows.Next() {
		var entry storage.OutboxEntry
		if err := rows.Scan(&entry.GlobalSeq, &entry.EventType, &entry.AttemptCount); err != nil {
			return nil, fmt.Errorf("scan due outbox row: %w", err)
		}
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due outbox rows: %w", err)
	}

	claimed := make([]storage.OutboxEntry, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE bus_outbox
			 SET status = 'processing', updated_at = ?
			 WHERE global_seq = ?
			   AND (
			       (status IN ('pending', 'failed') AND next_attempt_at <= ?)
			       OR (status = 'processing' AND updated_at <= ?)
			   )`,
			toMillis(now),
			candidate.GlobalSeq,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %d: %w", candidate.GlobalSeq, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row rows affected %d: %w", candidate.GlobalSeq, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

// CompleteOutboxRow removes a published row from the outbox.
func (s *Store) CompleteOutboxRow(ctx context.Context, globalSeq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM bus_outbox WHERE global_seq = ? AND status = 'processing'`,
		globalSeq,
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %d: %w", globalSeq, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete outbox row rows affected %d: %w", globalSeq, err)
	}
	if affected != 1 {
		return fmt.Errorf("complete outbox row %d: expected 1 row deleted, got %d", globalSeq, affected)
	}
	return nil
}

// MarkOutboxRetry records a failed publish attempt. Rows that exhaust the
// dead-letter threshold stop retrying until explicitly requeued.
func (s *Store) MarkOutboxRetry(ctx context.Context, globalSeq int64, attempt int, nextAttempt time.Time, lastError string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	status := "failed"
	if attempt >= outboxDeadLetterThreshold {
		status = "dead"
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE bus_outbox
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE global_seq = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(now),
		globalSeq,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry %d: %w", globalSeq, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox retry rows affected %d: %w", globalSeq, err)
	}
	if affected != 1 {
		return fmt.Errorf("mark outbox retry %d: expected 1 row updated, got %d", globalSeq, affected)
	}
	return nil
}

// RequeueOutboxDeadRows transitions up to limit dead rows back to pending
// in deterministic retry order.
func (s *Store) RequeueOutboxDeadRows(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("outbox requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`WITH to_requeue AS (
		    SELECT global_seq
		    FROM bus_outbox
		    WHERE status = 'dead'
		    ORDER BY next_attempt_at ASC, global_seq ASC
		    LIMIT ?
		)
		UPDATE bus_outbox
		SET status = 'pending',
		    attempt_count = 0,
		    next_attempt_at = ?,
		    last_error = '',
		    updated_at = ?
		WHERE status = 'dead'
		  AND global_seq IN (SELECT global_seq FROM to_requeue)`,
		limit,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows affected: %w", err)
	}
	return int(affected), nil
}

// GetOutboxSummary returns queue depth by status and the oldest due row.
func (s *Store) GetOutboxSummary(ctx context.Context) (storage.OutboxSummary, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutboxSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutboxSummary{}, fmt.Errorf("storage is not configured")
	}

	summary := storage.OutboxSummary{}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM bus_outbox GROUP BY status`,
	)
	if err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("query outbox summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return storage.OutboxSummary{}, fmt.Errorf("scan outbox summary count: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "pending":
			summary.PendingCount = count
		case "processing":
			summary.ProcessingCount = count
		case "failed":
			summary.FailedCount = count
		case "dead":
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("iterate outbox summary counts: %w", err)
	}

	var (
		globalSeq   int64
		nextAttempt int64
	)
	err = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT global_seq, next_attempt_at
		 FROM bus_outbox
		 WHERE status IN ('pending', 'failed')
		 ORDER BY next_attempt_at ASC, global_seq ASC
		 LIMIT 1`,
	).Scan(&globalSeq, &nextAttempt)
	if err == nil {
		summary.OldestPendingSeq = globalSeq
		summary.OldestPendingAt = fromMillis(nextAttempt)
		return summary, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	return storage.OutboxSummary{}, fmt.Errorf("query oldest pending outbox row: %w", err)
}

// OutboxRetryBackoff returns the exponential delay before retrying a
// failed publish, capped at five minutes.
func OutboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}
	return backoff
}
