package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// PutSKU inserts or updates one master-data SKU.
func (s *Store) PutSKU(ctx context.Context, record storage.SKU) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.SKU = strings.TrimSpace(record.SKU)
	if record.SKU == "" {
		return fmt.Errorf("sku is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO skus (sku, description, active, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(sku) DO UPDATE SET
		     description = excluded.description,
		     active = excluded.active`,
		record.SKU,
		record.Description,
		boolToInt(record.Active),
		toMillis(record.CreatedAt),
	); err != nil {
		return fmt.Errorf("put sku %s: %w", record.SKU, err)
	}
	return nil
}

// GetSKU returns one master-data SKU.
func (s *Store) GetSKU(ctx context.Context, sku string) (storage.SKU, error) {
	if err := ctx.Err(); err != nil {
		return storage.SKU{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SKU{}, fmt.Errorf("storage is not configured")
	}

	var (
		record    storage.SKU
		active    int
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT sku, description, active, created_at FROM skus WHERE sku = ?`,
		sku,
	).Scan(&record.SKU, &record.Description, &active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SKU{}, fmt.Errorf("sku %s: %w", sku, storage.ErrNotFound)
		}
		return storage.SKU{}, fmt.Errorf("get sku %s: %w", sku, err)
	}
	record.Active = active != 0
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutLocation inserts or updates one master-data location.
func (s *Store) PutLocation(ctx context.Context, record storage.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.WarehouseID = strings.TrimSpace(record.WarehouseID)
	record.Location = strings.TrimSpace(record.Location)
	if record.WarehouseID == "" || record.Location == "" {
		return fmt.Errorf("warehouse id and location are required")
	}
	if record.Kind == "" {
		record.Kind = storage.LocationKindBin
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO locations (warehouse_id, location, kind, active, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(warehouse_id, location) DO UPDATE SET
		     kind = excluded.kind,
		     active = excluded.active`,
		record.WarehouseID,
		record.Location,
		record.Kind,
		boolToInt(record.Active),
		toMillis(record.CreatedAt),
	); err != nil {
		return fmt.Errorf("put location %s/%s: %w", record.WarehouseID, record.Location, err)
	}
	return nil
}

// GetLocation returns one master-data location.
func (s *Store) GetLocation(ctx context.Context, warehouseID, location string) (storage.Location, error) {
	if err := ctx.Err(); err != nil {
		return storage.Location{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Location{}, fmt.Errorf("storage is not configured")
	}

	var (
		record    storage.Location
		active    int
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT warehouse_id, location, kind, active, created_at
		 FROM locations
		 WHERE warehouse_id = ? AND location = ?`,
		warehouseID, location,
	).Scan(&record.WarehouseID, &record.Location, &record.Kind, &active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Location{}, fmt.Errorf("location %s/%s: %w", warehouseID, location, storage.ErrNotFound)
		}
		return storage.Location{}, fmt.Errorf("get location %s/%s: %w", warehouseID, location, err)
	}
	record.Active = active != 0
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// EnsureTransitLocation creates the virtual in-transit location for a
// warehouse on first use.
func (s *Store) EnsureTransitLocation(ctx context.Context, warehouseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return fmt.Errorf("warehouse id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO locations (warehouse_id, location, kind, active, created_at)
		 VALUES (?, ?, ?, 1, ?)`,
		warehouseID,
		transfer.TransitLocation,
		storage.LocationKindVirtual,
		toMillis(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("ensure transit location %s: %w", warehouseID, err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
