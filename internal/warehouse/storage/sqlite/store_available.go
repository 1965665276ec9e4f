package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/projection"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

const (
	liveViewTable   = "available_stock"
	shadowViewTable = "available_stock_shadow"
)

func viewTableFor(name string) (string, error) {
	if name != projection.ViewName {
		return "", fmt.Errorf("unknown projection %q", name)
	}
	return liveViewTable, nil
}

// GetViewRow returns one live view row.
func (s *Store) GetViewRow(ctx context.Context, warehouseID, location, sku string) (projection.Row, error) {
	if err := ctx.Err(); err != nil {
		return projection.Row{}, err
	}
	if s == nil || s.sqlDB == nil {
		return projection.Row{}, fmt.Errorf("storage is not configured")
	}

	var row projection.Row
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT warehouse_id, location, sku, on_hand, hard_locked
		 FROM available_stock
		 WHERE warehouse_id = ? AND location = ? AND sku = ?`,
		warehouseID, location, sku,
	).Scan(&row.WarehouseID, &row.Location, &row.SKU, &row.OnHand, &row.HardLocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return projection.Row{}, fmt.Errorf("view row %s/%s/%s: %w", warehouseID, location, sku, storage.ErrNotFound)
		}
		return projection.Row{}, fmt.Errorf("get view row: %w", err)
	}
	return row, nil
}

// ListAvailableBySKU returns the live view rows for one (warehouse, sku)
// ordered by available quantity descending. Allocation walks this list
// greedily.
func (s *Store) ListAvailableBySKU(ctx context.Context, warehouseID, sku string) ([]projection.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT warehouse_id, location, sku, on_hand, hard_locked
		 FROM available_stock
		 WHERE warehouse_id = ? AND sku = ?
		 ORDER BY (on_hand - hard_locked) DESC, location ASC`,
		warehouseID, sku,
	)
	if err != nil {
		return nil, fmt.Errorf("list available for %s/%s: %w", warehouseID, sku, err)
	}
	defer rows.Close()
	return scanViewRows(rows)
}

// ListViewRows returns every live view row for a projection.
func (s *Store) ListViewRows(ctx context.Context, name string) ([]projection.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	table, err := viewTableFor(name)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT warehouse_id, location, sku, on_hand, hard_locked FROM `+table,
	)
	if err != nil {
		return nil, fmt.Errorf("list view rows: %w", err)
	}
	defer rows.Close()
	return scanViewRows(rows)
}

// ListTransitRows returns live rows held at one location across the
// warehouse, oldest update first. Used by the in-transit reconciliation
// sweep.
func (s *Store) ListTransitRows(ctx context.Context, location string, updatedBefore time.Time) ([]projection.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT warehouse_id, location, sku, on_hand, hard_locked
		 FROM available_stock
		 WHERE location = ? AND on_hand <> 0 AND updated_at <= ?
		 ORDER BY updated_at ASC`,
		location,
		toMillis(updatedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("list transit rows: %w", err)
	}
	defer rows.Close()
	return scanViewRows(rows)
}

// WriteShadowRows recreates the shadow table and fills it with the rebuilt
// rows.
func (s *Store) WriteShadowRows(ctx context.Context, name string, rows []projection.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := viewTableFor(name); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shadow write tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+shadowViewTable); err != nil {
		return fmt.Errorf("drop stale shadow: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE `+shadowViewTable+` (
		    warehouse_id TEXT NOT NULL,
		    location TEXT NOT NULL,
		    sku TEXT NOT NULL,
		    on_hand INTEGER NOT NULL DEFAULT 0,
		    hard_locked INTEGER NOT NULL DEFAULT 0,
		    updated_at INTEGER NOT NULL,
		    PRIMARY KEY (warehouse_id, location, sku)
		 )`,
	); err != nil {
		return fmt.Errorf("create shadow table: %w", err)
	}

	now := toMillis(time.Now().UTC())
	for _, row := range rows {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO `+shadowViewTable+` (warehouse_id, location, sku, on_hand, hard_locked, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			row.WarehouseID, row.Location, row.SKU, row.OnHand, row.HardLocked, now,
		); err != nil {
			return fmt.Errorf("insert shadow row %s/%s/%s: %w", row.WarehouseID, row.Location, row.SKU, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shadow write tx: %w", err)
	}
	return nil
}

// SwapShadow atomically replaces the live view with the shadow table. The
// rename and index rebuild happen in one transaction; readers see either
// the old view or the new one, never a gap.
func (s *Store) SwapShadow(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	table, err := viewTableFor(name)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shadow swap tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_available_stock_sku`); err != nil {
		return fmt.Errorf("drop view index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE `+table); err != nil {
		return fmt.Errorf("drop live view: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE `+shadowViewTable+` RENAME TO `+table); err != nil {
		return fmt.Errorf("rename shadow to live: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX idx_available_stock_sku ON `+table+`(warehouse_id, sku)`); err != nil {
		return fmt.Errorf("recreate view index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shadow swap tx: %w", err)
	}
	return nil
}

// DropShadow removes the shadow table if present.
func (s *Store) DropShadow(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := viewTableFor(name); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DROP TABLE IF EXISTS `+shadowViewTable); err != nil {
		return fmt.Errorf("drop shadow table: %w", err)
	}
	return nil
}

// ShadowExists reports whether a shadow table is present.
func (s *Store) ShadowExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if _, err := viewTableFor(name); err != nil {
		return false, err
	}

	var found int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`,
		shadowViewTable,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check shadow table: %w", err)
	}
	return true, nil
}

func scanViewRows(rows *sql.Rows) ([]projection.Row, error) {
	var out []projection.Row
	for rows.Next() {
		var row projection.Row
		if err := rows.Scan(&row.WarehouseID, &row.Location, &row.SKU, &row.OnHand, &row.HardLocked); err != nil {
			return nil, fmt.Errorf("scan view row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate view rows: %w", err)
	}
	return out, nil
}
