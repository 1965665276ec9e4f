package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/retry"
	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
	"github.com/quillon/warehouse/internal/warehouse/domain/reservation"
	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
)

// CreateReservationRequest opens a reservation with soft intent on stock.
type CreateReservationRequest struct {
	CommandID     string
	OperatorID    string
	ReservationID string
	WarehouseID   string
	Purpose       string
	Priority      int
	Lines         []reservation.RequestedLine
}

// ReservationResult is the post-command snapshot of a reservation.
type ReservationResult struct {
	ReservationID string               `json:"reservation_id"`
	Status        reservation.Status   `json:"status"`
	LockType      reservation.LockType `json:"lock_type"`
}

// PickStockRequest picks quantity of one line from an allocated location
// into a destination bin (a dock or staging location).
type PickStockRequest struct {
	CommandID      string
	OperatorID     string
	ReservationID  string
	SKU            string
	Location       string
	ToLocation     string
	Qty            int64
	HandlingUnitID string
}

// PickStockResult reports the committed movement and the reservation
// bookkeeping outcome.
type PickStockResult struct {
	ReservationID string `json:"reservation_id"`
	MovementID    string `json:"movement_id"`
	GlobalSeq     uint64 `json:"global_seq"`
	PickedQty     int64  `json:"picked_qty"`
}

// CreateReservation validates master data references and appends
// reservation.created.
func (s *Service) CreateReservation(ctx context.Context, req CreateReservationRequest) (ReservationResult, error) {
	return dispatch(ctx, s, req.CommandID, func(ctx context.Context) (ReservationResult, error) {
		for _, line := range req.Lines {
			if err := s.requireSKU(ctx, line.SKU); err != nil {
				return ReservationResult{}, err
			}
		}
		payload := reservation.CreatePayload{
			ID:          req.ReservationID,
			WarehouseID: req.WarehouseID,
			Purpose:     req.Purpose,
			Priority:    req.Priority,
			Lines:       req.Lines,
		}
		return s.runReservationCommand(ctx, req.ReservationID, req.CommandID, req.OperatorID, reservation.CommandTypeCreate, payload)
	})
}

// AllocateReservation plans soft locks for every line against the live
// view and appends reservation.allocated. Allocation is greedy by
// available quantity, so the fullest bins drain first. A line the view
// cannot cover rejects the whole command.
func (s *Service) AllocateReservation(ctx context.Context, commandID, operatorID, reservationID string) (ReservationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ReservationResult, error) {
		streamKey := reservation.StreamKey(reservationID)
		appended, err := s.decideAndAppend(ctx, streamKey, func(events []event.Event) (command.Decision, error) {
			state := reservation.Replay(events)
			payload, err := s.planAllocation(ctx, state)
			if err != nil {
				return command.Decision{}, err
			}
			cmd := newDomainCommand(commandID, reservation.CommandTypeAllocate, streamKey, operatorID, "", payload)
			return reservation.Decide(state, cmd, s.now), nil
		})
		if err != nil {
			return ReservationResult{}, err
		}
		return s.reservationSnapshot(ctx, reservationID, appended)
	})
}

// StartPicking converts the reservation's soft locks to hard locks. The
// projection applies the locks in the same transaction as the event, so
// availability shrinks atomically with the status change.
func (s *Service) StartPicking(ctx context.Context, commandID, operatorID, reservationID string) (ReservationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ReservationResult, error) {
		return s.runReservationCommand(ctx, reservationID, commandID, operatorID, reservation.CommandTypeStartPicking, nil)
	})
}

// PickStock commits the physical pick movement first, then records the
// line pick on the reservation. The movement is the source of truth: if
// the reservation bookkeeping fails after the movement committed, the
// movement stands and the failure is surfaced for a retry of the same
// command, never rolled back. The retry finds the committed movement on
// the stream and only redoes the bookkeeping.
func (s *Service) PickStock(ctx context.Context, req PickStockRequest) (PickStockResult, error) {
	return dispatch(ctx, s, req.CommandID, func(ctx context.Context) (PickStockResult, error) {
		state, err := s.loadReservation(ctx, req.ReservationID)
		if err != nil {
			return PickStockResult{}, err
		}
		if err := validatePick(state, req); err != nil {
			return PickStockResult{}, err
		}
		if err := s.requireLocation(ctx, state.WarehouseID, req.ToLocation); err != nil {
			return PickStockResult{}, err
		}

		movementID := pickMovementID(req.ReservationID, req.SKU, req.Location)
		m := movement.Movement{
			ID:             movementID,
			WarehouseID:    state.WarehouseID,
			SKU:            req.SKU,
			Quantity:       req.Qty,
			FromLocation:   req.Location,
			ToLocation:     req.ToLocation,
			Type:           movement.TypePick,
			OperatorID:     req.OperatorID,
			HandlingUnitID: req.HandlingUnitID,
			Timestamp:      s.now().UTC(),
		}
		stored, committed, err := s.committedMovement(ctx, m.StreamKey(), req.CommandID)
		if err != nil {
			return PickStockResult{}, err
		}
		if !committed {
			stored, err = s.appendPickMovement(ctx, m, req.CommandID)
			if err != nil {
				return PickStockResult{}, err
			}
		}

		payload := reservation.LinePickedPayload{
			SKU:        req.SKU,
			Location:   req.Location,
			Qty:        req.Qty,
			MovementID: movementID,
		}
		if _, err := s.runReservationCommand(ctx, req.ReservationID, req.CommandID, req.OperatorID, reservation.CommandTypePick, payload); err != nil {
			s.logger.Error("pick movement committed but reservation bookkeeping failed",
				zap.String("reservation_id", req.ReservationID),
				zap.String("movement_id", movementID),
				zap.Uint64("global_seq", stored.GlobalSeq),
				zap.Error(err))
			return PickStockResult{}, err
		}
		return PickStockResult{
			ReservationID: req.ReservationID,
			MovementID:    movementID,
			GlobalSeq:     stored.GlobalSeq,
			PickedQty:     req.Qty,
		}, nil
	})
}

// ConsumeReservation finalizes a fully picked reservation and releases
// its hard locks.
func (s *Service) ConsumeReservation(ctx context.Context, commandID, operatorID, reservationID string) (ReservationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ReservationResult, error) {
		return s.runReservationCommand(ctx, reservationID, commandID, operatorID, reservation.CommandTypeConsume, nil)
	})
}

// CancelReservation cancels a reservation that has not started picking.
func (s *Service) CancelReservation(ctx context.Context, commandID, operatorID, reservationID, reason string) (ReservationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ReservationResult, error) {
		payload := reservation.CancelledPayload{Reason: reason}
		return s.runReservationCommand(ctx, reservationID, commandID, operatorID, reservation.CommandTypeCancel, payload)
	})
}

// GetReservation replays and returns the reservation state.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (reservation.State, error) {
	state, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return reservation.State{}, err
	}
	if !state.Created {
		return reservation.State{}, errors.New(errors.CodeReservationNotCreated, "reservation does not exist")
	}
	return state, nil
}

func (s *Service) loadReservation(ctx context.Context, reservationID string) (reservation.State, error) {
	events, err := s.store.ListStream(ctx, reservation.StreamKey(reservationID))
	if err != nil {
		return reservation.State{}, errors.Wrap(errors.CodeInternal, "replay reservation", err)
	}
	return reservation.Replay(events), nil
}

// runReservationCommand replays, decides, and appends one reservation
// command, returning the post-command snapshot.
func (s *Service) runReservationCommand(ctx context.Context, reservationID, commandID, operatorID string, typ command.Type, payload any) (ReservationResult, error) {
	streamKey := reservation.StreamKey(reservationID)
	appended, err := s.decideAndAppend(ctx, streamKey, func(events []event.Event) (command.Decision, error) {
		state := reservation.Replay(events)
		cmd := newDomainCommand(commandID, typ, streamKey, operatorID, "", payload)
		return reservation.Decide(state, cmd, s.now), nil
	})
	if err != nil {
		return ReservationResult{}, err
	}
	return s.reservationSnapshot(ctx, reservationID, appended)
}

func (s *Service) reservationSnapshot(ctx context.Context, reservationID string, _ []event.Event) (ReservationResult, error) {
	state, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return ReservationResult{}, err
	}
	return ReservationResult{
		ReservationID: reservationID,
		Status:        state.Status,
		LockType:      state.LockType,
	}, nil
}

// planAllocation builds soft-lock assignments for every line by walking
// the view rows richest-first. The transit location never participates.
func (s *Service) planAllocation(ctx context.Context, state reservation.State) (reservation.AllocatePayload, error) {
	var payload reservation.AllocatePayload
	for _, line := range state.Lines {
		rows, err := s.store.ListAvailableBySKU(ctx, state.WarehouseID, line.SKU)
		if err != nil {
			return reservation.AllocatePayload{}, errors.Wrap(errors.CodeInternal, "list available stock", err)
		}
		remaining := line.RequestedQty
		var allocations []reservation.Allocation
		for _, row := range rows {
			if remaining == 0 {
				break
			}
			if row.Location == transfer.TransitLocation {
				continue
			}
			available := row.Available()
			if available <= 0 {
				continue
			}
			take := available
			if take > remaining {
				take = remaining
			}
			allocations = append(allocations, reservation.Allocation{Location: row.Location, Qty: take})
			remaining -= take
		}
		if remaining > 0 {
			return reservation.AllocatePayload{}, errors.WithMetadata(errors.CodeInsufficientAvailableStock,
				fmt.Sprintf("sku %s short by %d", line.SKU, remaining),
				map[string]string{
					"warehouse_id": state.WarehouseID,
					"sku":          line.SKU,
					"requested":    strconv.FormatInt(line.RequestedQty, 10),
					"short_by":     strconv.FormatInt(remaining, 10),
				})
		}
		payload.Lines = append(payload.Lines, reservation.AllocatedLine{SKU: line.SKU, Allocations: allocations})
	}
	return payload, nil
}

// appendPickMovement commits the pick against the source bin. Picks draw
// down their own hard lock, so the guard is on-hand quantity rather than
// the generic available balance.
func (s *Service) appendPickMovement(ctx context.Context, m movement.Movement, commandID string) (event.Event, error) {
	row, err := s.GetAvailableStock(ctx, m.WarehouseID, m.FromLocation, m.SKU)
	if err != nil {
		return event.Event{}, err
	}
	if row.OnHand < m.Quantity {
		return event.Event{}, errors.WithMetadata(errors.CodeInsufficientAvailableStock,
			fmt.Sprintf("on-hand stock %d cannot cover pick of %d", row.OnHand, m.Quantity),
			map[string]string{
				"warehouse_id": m.WarehouseID,
				"location":     m.FromLocation,
				"sku":          m.SKU,
				"on_hand":      strconv.FormatInt(row.OnHand, 10),
				"requested":    strconv.FormatInt(m.Quantity, 10),
			})
	}

	var stored event.Event
	err = retryAppend(ctx, s, func(ctx context.Context) (event.Event, error) {
		version, err := s.store.StreamVersion(ctx, m.StreamKey())
		if err != nil {
			return event.Event{}, errors.Wrap(errors.CodeInternal, "read stream version", err)
		}
		evt, err := m.ToEvent(commandID)
		if err != nil {
			return event.Event{}, errors.Wrap(errors.CodeValidation, "build movement event", err)
		}
		return s.store.AppendEvent(ctx, evt, version)
	}, &stored)
	if err != nil {
		return event.Event{}, err
	}
	return stored, nil
}

// validatePick checks the pick against the reservation's hard locks
// before any storage write.
func validatePick(state reservation.State, req PickStockRequest) error {
	if !state.Created {
		return errors.New(errors.CodeReservationNotCreated, "reservation does not exist")
	}
	if state.Status != reservation.StatusPicking && state.Status != reservation.StatusConsumed {
		return errors.New(errors.CodeReservationStatusTransition, "stock can only be picked while PICKING")
	}
	if req.Qty <= 0 {
		return errors.New(errors.CodeReservationLineInvalid, "pick quantity must be greater than zero")
	}
	if strings.TrimSpace(req.ToLocation) == "" {
		return errors.New(errors.CodeReservationLineInvalid, "pick requires a destination location")
	}
	if req.ToLocation == req.Location {
		return errors.New(errors.CodeMovementSameLocation, "pick source and destination must differ")
	}
	if req.ToLocation == transfer.TransitLocation {
		return errors.New(errors.CodeValidation, "the transit location is reserved for transfer execution")
	}
	line, ok := state.LineBySKU(req.SKU)
	if !ok {
		return errors.New(errors.CodeReservationLineUnknown, "pick names an unknown line")
	}
	var allocatedHere int64
	for _, alloc := range line.Allocations {
		if alloc.Location == req.Location {
			allocatedHere += alloc.Qty
		}
	}
	if allocatedHere < req.Qty {
		return errors.WithMetadata(errors.CodeReservationQuantityExceeded,
			fmt.Sprintf("location %s holds %d allocated, pick wants %d", req.Location, allocatedHere, req.Qty),
			map[string]string{
				"location":  req.Location,
				"sku":       req.SKU,
				"allocated": strconv.FormatInt(allocatedHere, 10),
				"requested": strconv.FormatInt(req.Qty, 10),
			})
	}
	return nil
}

// pickMovementID derives a stable movement id so a retried pick command
// reuses the same movement instead of minting a second one.
func pickMovementID(reservationID, sku, location string) string {
	return fmt.Sprintf("pick-%s-%s-%s", reservationID, sku, location)
}

func newDomainCommand(commandID string, typ command.Type, streamKey, operatorID, operatorRole string, payload any) command.Command {
	var payloadJSON []byte
	if payload != nil {
		payloadJSON, _ = json.Marshal(payload)
	}
	return command.Command{
		ID:           commandID,
		Type:         typ,
		StreamKey:    streamKey,
		OperatorID:   operatorID,
		OperatorRole: operatorRole,
		PayloadJSON:  payloadJSON,
	}
}

// retryAppend runs op under the service retry policy, mapping version
// conflicts to the retryable taxonomy code.
func retryAppend(ctx context.Context, s *Service, op func(ctx context.Context) (event.Event, error), out *event.Event) error {
	return retry.Do(ctx, s.policy, retryableErr, func(ctx context.Context) error {
		stored, err := op(ctx)
		if err != nil {
			err = wrapConflict(err)
			if !errors.IsCode(err, errors.CodeConcurrencyConflict) && errors.CodeOf(err) == errors.CodeUnknown {
				err = errors.Wrap(errors.CodeInternal, "append event", err)
			}
			return err
		}
		*out = stored
		return nil
	})
}
