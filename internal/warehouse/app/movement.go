package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/id"
	"github.com/quillon/warehouse/internal/platform/retry"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// MovementRequest records one physical stock movement.
type MovementRequest struct {
	CommandID string
	Movement  movement.Movement
}

// MovementResult reports the ledger position of a committed movement.
type MovementResult struct {
	Movement  movement.Movement `json:"movement"`
	StreamSeq uint64            `json:"stream_seq"`
	GlobalSeq uint64            `json:"global_seq"`
}

// RecordMovement validates and appends a stock movement. Outbound
// movements are checked against the available balance of the source
// location, so a pick or scrap can never take the view negative. The
// TRANSIT location is reserved for transfer execution and rejected here.
func (s *Service) RecordMovement(ctx context.Context, req MovementRequest) (MovementResult, error) {
	return dispatch(ctx, s, req.CommandID, func(ctx context.Context) (MovementResult, error) {
		m := req.Movement
		if m.ID == "" {
			m.ID = id.New()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = s.now().UTC()
		}
		if m.FromLocation == transfer.TransitLocation || m.ToLocation == transfer.TransitLocation {
			return MovementResult{}, errors.New(errors.CodeValidation, "the transit location is reserved for transfer execution")
		}
		if err := validateMovement(m); err != nil {
			return MovementResult{}, err
		}
		if err := s.requireSKU(ctx, m.SKU); err != nil {
			return MovementResult{}, err
		}
		if m.FromLocation != "" {
			if err := s.requireLocation(ctx, m.WarehouseID, m.FromLocation); err != nil {
				return MovementResult{}, err
			}
		}
		if m.ToLocation != "" {
			if err := s.requireLocation(ctx, m.WarehouseID, m.ToLocation); err != nil {
				return MovementResult{}, err
			}
		}
		stored, err := s.appendMovement(ctx, m, req.CommandID)
		if err != nil {
			return MovementResult{}, err
		}
		return MovementResult{Movement: m, StreamSeq: stored.StreamSeq, GlobalSeq: stored.GlobalSeq}, nil
	})
}

// appendMovement commits one movement under optimistic concurrency,
// re-checking source availability on every attempt so a concurrent pick
// from the same bin cannot oversell it.
func (s *Service) appendMovement(ctx context.Context, m movement.Movement, commandID string) (event.Event, error) {
	var stored event.Event
	err := retry.Do(ctx, s.policy, retryableErr, func(ctx context.Context) error {
		if m.FromLocation != "" {
			if err := s.requireAvailable(ctx, m.WarehouseID, m.FromLocation, m.SKU, m.Quantity); err != nil {
				return err
			}
		}
		version, err := s.store.StreamVersion(ctx, m.StreamKey())
		if err != nil {
			return errors.Wrap(errors.CodeInternal, "read stream version", err)
		}
		evt, err := m.ToEvent(commandID)
		if err != nil {
			return errors.Wrap(errors.CodeValidation, "build movement event", err)
		}
		stored, err = s.store.AppendEvent(ctx, evt, version)
		if err != nil {
			if errors.IsCode(wrapConflict(err), errors.CodeConcurrencyConflict) {
				return wrapConflict(err)
			}
			return errors.Wrap(errors.CodeInternal, "append movement", err)
		}
		return nil
	})
	if err != nil {
		return event.Event{}, err
	}
	return stored, nil
}

func wrapConflict(err error) error {
	if stderrors.Is(err, storage.ErrVersionConflict) {
		return errors.Wrap(errors.CodeConcurrencyConflict, "concurrent writer committed first", err)
	}
	return err
}

// requireAvailable checks that the source bin can cover qty after hard
// locks are taken out.
func (s *Service) requireAvailable(ctx context.Context, warehouseID, location, sku string, qty int64) error {
	row, err := s.GetAvailableStock(ctx, warehouseID, location, sku)
	if err != nil {
		return err
	}
	if row.Available() < qty {
		return errors.WithMetadata(errors.CodeInsufficientAvailableStock,
			fmt.Sprintf("available stock %d cannot cover %d", row.Available(), qty),
			map[string]string{
				"warehouse_id": warehouseID,
				"location":     location,
				"sku":          sku,
				"available":    strconv.FormatInt(row.Available(), 10),
				"requested":    strconv.FormatInt(qty, 10),
			})
	}
	return nil
}

func validateMovement(m movement.Movement) error {
	if m.Quantity <= 0 {
		return errors.New(errors.CodeMovementInvalidQuantity, "quantity must be greater than zero")
	}
	if m.FromLocation != "" && m.FromLocation == m.ToLocation {
		return errors.New(errors.CodeMovementSameLocation, "from and to locations must differ")
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(errors.CodeValidation, "invalid movement", err)
	}
	return nil
}
