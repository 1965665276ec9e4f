package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/projection"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// ExpectedVersionAny skips the optimistic-concurrency check on append.
const ExpectedVersionAny int64 = -1

// AppendEvent appends one event to its stream, applies the projection
// deltas to the live view, and enqueues the bus outbox row, all in one
// transaction. expectedVersion is the stream head the caller observed;
// a mismatch returns storage.ErrVersionConflict and commits nothing.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event, expectedVersion int64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.StreamKey) == "" {
		return event.Event{}, fmt.Errorf("stream key is required")
	}
	if !evt.Type.IsValid() {
		return event.Event{}, fmt.Errorf("event type is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}

	deltas, err := projection.Deltas(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("derive projection deltas: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var head int64
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(stream_seq), 0) FROM ledger_events WHERE stream_key = ?`,
		evt.StreamKey,
	).Scan(&head); err != nil {
		return event.Event{}, fmt.Errorf("read stream head %s: %w", evt.StreamKey, err)
	}
	if expectedVersion != ExpectedVersionAny && head != expectedVersion {
		return event.Event{}, fmt.Errorf("append %s at version %d, head is %d: %w",
			evt.StreamKey, expectedVersion, head, storage.ErrVersionConflict)
	}
	streamSeq := head + 1

	result, err := tx.ExecContext(
		ctx,
		`INSERT INTO ledger_events (
		    stream_key, stream_seq, event_type, command_id, operator_id, timestamp, payload_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.StreamKey,
		streamSeq,
		string(evt.Type),
		evt.CommandID,
		evt.OperatorID,
		toMillis(evt.Timestamp),
		evt.PayloadJSON,
	)
	if err != nil {
		if isConstraintError(err) {
			return event.Event{}, fmt.Errorf("append %s at seq %d: %w", evt.StreamKey, streamSeq, storage.ErrVersionConflict)
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}
	globalSeq, err := result.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("read global seq: %w", err)
	}

	if err := applyDeltasTx(ctx, tx, deltas, evt.Timestamp); err != nil {
		return event.Event{}, err
	}
	if err := enqueueOutboxTx(ctx, tx, globalSeq, string(evt.Type), evt.Timestamp); err != nil {
		return event.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append tx: %w", err)
	}

	evt.StreamSeq = uint64(streamSeq)
	evt.GlobalSeq = uint64(globalSeq)
	return evt, nil
}

func applyDeltasTx(ctx context.Context, tx *sql.Tx, deltas []projection.Delta, now time.Time) error {
	for _, d := range deltas {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO available_stock (warehouse_id, location, sku, on_hand, hard_locked, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(warehouse_id, location, sku) DO UPDATE SET
			     on_hand = on_hand + excluded.on_hand,
			     hard_locked = hard_locked + excluded.hard_locked,
			     updated_at = excluded.updated_at`,
			d.WarehouseID,
			d.Location,
			d.SKU,
			d.OnHandDelta,
			d.HardLockedDelta,
			toMillis(now),
		); err != nil {
			return fmt.Errorf("apply view delta %s/%s/%s: %w", d.WarehouseID, d.Location, d.SKU, err)
		}
	}
	return nil
}

func enqueueOutboxTx(ctx context.Context, tx *sql.Tx, globalSeq int64, eventType string, now time.Time) error {
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO bus_outbox (global_seq, event_type, status, attempt_count, next_attempt_at, last_error, updated_at)
		 VALUES (?, ?, 'pending', 0, ?, '', ?)
		 ON CONFLICT(global_seq) DO NOTHING`,
		globalSeq,
		eventType,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return fmt.Errorf("enqueue bus outbox: %w", err)
	}
	return nil
}

// StreamVersion returns the current head sequence of a stream, zero when
// the stream has no events.
func (s *Store) StreamVersion(ctx context.Context, streamKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var head int64
	if err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(stream_seq), 0) FROM ledger_events WHERE stream_key = ?`,
		streamKey,
	).Scan(&head); err != nil {
		return 0, fmt.Errorf("read stream head %s: %w", streamKey, err)
	}
	return head, nil
}

// ListStream returns a stream's events in stream-sequence order.
func (s *Store) ListStream(ctx context.Context, streamKey string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT global_seq, stream_key, stream_seq, event_type, command_id, operator_id, timestamp, payload_json
		 FROM ledger_events
		 WHERE stream_key = ?
		 ORDER BY stream_seq ASC`,
		streamKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list stream %s: %w", streamKey, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsAfter returns up to limit events with global sequence greater
// than afterGlobalSeq, in global order. Used by the projection rebuild.
func (s *Store) ListEventsAfter(ctx context.Context, afterGlobalSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT global_seq, stream_key, stream_seq, event_type, command_id, operator_id, timestamp, payload_json
		 FROM ledger_events
		 WHERE global_seq > ?
		 ORDER BY global_seq ASC
		 LIMIT ?`,
		int64(afterGlobalSeq),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events after %d: %w", afterGlobalSeq, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventByGlobalSeq returns the event at one global sequence position.
func (s *Store) GetEventByGlobalSeq(ctx context.Context, globalSeq uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT global_seq, stream_key, stream_seq, event_type, command_id, operator_id, timestamp, payload_json
		 FROM ledger_events
		 WHERE global_seq = ?`,
		int64(globalSeq),
	)
	evt, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return event.Event{}, fmt.Errorf("event %d: %w", globalSeq, storage.ErrNotFound)
		}
		return event.Event{}, fmt.Errorf("get event %d: %w", globalSeq, err)
	}
	return evt, nil
}

// ListIncompleteTransferStreams returns the stream keys of transfers
// whose execution started but never reached a terminal event. These are
// the candidates for the transit reconciliation sweep.
func (s *Store) ListIncompleteTransferStreams(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT DISTINCT stream_key
		 FROM ledger_events
		 WHERE event_type = 'transfer.execution_started'
		   AND stream_key NOT IN (
			SELECT stream_key FROM ledger_events
			WHERE event_type IN ('transfer.completed', 'transfer.cancelled')
		   )
		 ORDER BY stream_key ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list incomplete transfers: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var streamKey string
		if err := rows.Scan(&streamKey); err != nil {
			return nil, fmt.Errorf("scan stream key: %w", err)
		}
		streams = append(streams, streamKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream keys: %w", err)
	}
	return streams, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt       event.Event
		globalSeq int64
		streamSeq int64
		eventType string
		timestamp int64
	)
	if err := row.Scan(
		&globalSeq,
		&evt.StreamKey,
		&streamSeq,
		&eventType,
		&evt.CommandID,
		&evt.OperatorID,
		&timestamp,
		&evt.PayloadJSON,
	); err != nil {
		return event.Event{}, err
	}
	evt.GlobalSeq = uint64(globalSeq)
	evt.StreamSeq = uint64(streamSeq)
	evt.Type = event.Type(eventType)
	evt.Timestamp = fromMillis(timestamp)
	return evt, nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
