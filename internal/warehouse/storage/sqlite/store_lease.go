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

// AcquireLease claims a resource lease for holder with the given ttl. An
// expired lease is replaced atomically; a live lease held by someone else
// returns storage.ErrLeaseHeld. Re-acquiring one's own live lease extends
// it.
func (s *Store) AcquireLease(ctx context.Context, resource, holder string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	resource = strings.TrimSpace(resource)
	holder = strings.TrimSpace(holder)
	if resource == "" || holder == "" {
		return fmt.Errorf("lease resource and holder are required")
	}
	if ttl <= 0 {
		return fmt.Errorf("lease ttl must be greater than zero")
	}

	now := time.Now().UTC()
	expiry := now.Add(ttl)

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO lease_locks (resource, holder, lease_expiry)
		 VALUES (?, ?, ?)
		 ON CONFLICT(resource) DO UPDATE SET
		     holder = excluded.holder,
		     lease_expiry = excluded.lease_expiry
		 WHERE lease_locks.lease_expiry <= ? OR lease_locks.holder = excluded.holder`,
		resource,
		holder,
		toMillis(expiry),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", resource, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lease rows affected %s: %w", resource, err)
	}
	if affected == 0 {
		return fmt.Errorf("lease %s: %w", resource, storage.ErrLeaseHeld)
	}
	return nil
}

// ReleaseLease drops a lease if holder still owns it. Releasing a lease
// that expired and was taken over is a silent no-op.
func (s *Store) ReleaseLease(ctx context.Context, resource, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM lease_locks WHERE resource = ? AND holder = ?`,
		resource,
		holder,
	); err != nil {
		return fmt.Errorf("release lease %s: %w", resource, err)
	}
	return nil
}

// LeaseHolder returns the current live holder of a resource. An expired
// lease reports as unheld.
func (s *Store) LeaseHolder(ctx context.Context, resource string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s == nil || s.sqlDB == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}

	var (
		holder string
		expiry int64
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT holder, lease_expiry FROM lease_locks WHERE resource = ?`,
		resource,
	).Scan(&holder, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get lease %s: %w", resource, err)
	}
	if fromMillis(expiry).Before(time.Now().UTC()) {
		return "", false, nil
	}
	return holder, true, nil
}
