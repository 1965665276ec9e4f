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

// ReserveCommand attempts to claim a command id for execution. The first
// caller wins the reservation; losers get the existing record so they can
// return the cached result or signal in-progress.
func (s *Store) ReserveCommand(ctx context.Context, commandID string, now time.Time) (bool, storage.CommandRecord, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.CommandRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return false, storage.CommandRecord{}, fmt.Errorf("storage is not configured")
	}
	commandID = strings.TrimSpace(commandID)
	if commandID == "" {
		return false, storage.CommandRecord{}, fmt.Errorf("command id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO processed_commands (command_id, status, result_json, created_at, updated_at)
		 VALUES (?, ?, NULL, ?, ?)`,
		commandID,
		string(storage.CommandInProgress),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return false, storage.CommandRecord{}, fmt.Errorf("reserve command %s: %w", commandID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storage.CommandRecord{}, fmt.Errorf("reserve command rows affected %s: %w", commandID, err)
	}
	if affected == 1 {
		return true, storage.CommandRecord{}, nil
	}

	existing, err := s.GetCommand(ctx, commandID)
	if err != nil {
		return false, storage.CommandRecord{}, err
	}
	return false, existing, nil
}

// GetCommand returns one idempotency record.
func (s *Store) GetCommand(ctx context.Context, commandID string) (storage.CommandRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CommandRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CommandRecord{}, fmt.Errorf("storage is not configured")
	}

	var (
		record     storage.CommandRecord
		status     string
		resultJSON sql.NullString
		createdAt  int64
		updatedAt  int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT command_id, status, result_json, created_at, updated_at
		 FROM processed_commands
		 WHERE command_id = ?`,
		commandID,
	).Scan(&record.CommandID, &status, &resultJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CommandRecord{}, fmt.Errorf("command %s: %w", commandID, storage.ErrNotFound)
		}
		return storage.CommandRecord{}, fmt.Errorf("get command %s: %w", commandID, err)
	}
	record.Status = storage.CommandStatus(status)
	if resultJSON.Valid {
		record.ResultJSON = []byte(resultJSON.String)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// RecordCommandResult moves an in-progress reservation to its terminal
// status. Terminal rows are never updated again.
func (s *Store) RecordCommandResult(ctx context.Context, commandID string, status storage.CommandStatus, resultJSON []byte, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if !status.Terminal() {
		return fmt.Errorf("command result status %s is not terminal", status)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE processed_commands
		 SET status = ?, result_json = ?, updated_at = ?
		 WHERE command_id = ? AND status = ?`,
		string(status),
		resultJSON,
		toMillis(now),
		commandID,
		string(storage.CommandInProgress),
	)
	if err != nil {
		return fmt.Errorf("record command result %s: %w", commandID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record command result rows affected %s: %w", commandID, err)
	}
	if affected != 1 {
		return fmt.Errorf("record command result %s: expected 1 row updated, got %d", commandID, affected)
	}
	return nil
}

// ReleaseCommand removes an in-progress reservation so the command can be
// retried. Terminal rows are left untouched.
func (s *Store) ReleaseCommand(ctx context.Context, commandID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM processed_commands
		 WHERE command_id = ? AND status = ?`,
		commandID,
		string(storage.CommandInProgress),
	); err != nil {
		return fmt.Errorf("release command %s: %w", commandID, err)
	}
	return nil
}

// CleanupCommands deletes terminal idempotency rows older than cutoff and
// returns how many were removed.
func (s *Store) CleanupCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM processed_commands
		 WHERE status IN (?, ?) AND updated_at < ?`,
		string(storage.CommandCompleted),
		string(storage.CommandFailed),
		toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup commands: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup commands rows affected: %w", err)
	}
	return affected, nil
}
