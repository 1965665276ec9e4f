package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/id"
	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// executionLeaseTTL bounds how long one executor may hold a transfer
// before a crashed run can be taken over.
const executionLeaseTTL = 2 * time.Minute

// RequestTransferInput opens a transfer request between two locations.
type RequestTransferInput struct {
	CommandID    string
	OperatorID   string
	TransferID   string
	WarehouseID  string
	FromLocation string
	ToLocation   string
	Category     transfer.Category
	Lines        []transfer.RequestedLine
	Note         string
}

// TransferResult is the post-command snapshot of a transfer.
type TransferResult struct {
	TransferID    string          `json:"transfer_id"`
	Status        transfer.Status `json:"status"`
	LinesExecuted int             `json:"lines_executed"`
}

// RequestTransfer validates master data references and appends
// transfer.requested.
func (s *Service) RequestTransfer(ctx context.Context, req RequestTransferInput) (TransferResult, error) {
	return dispatch(ctx, s, req.CommandID, func(ctx context.Context) (TransferResult, error) {
		if err := s.requireLocation(ctx, req.WarehouseID, req.FromLocation); err != nil {
			return TransferResult{}, err
		}
		if err := s.requireLocation(ctx, req.WarehouseID, req.ToLocation); err != nil {
			return TransferResult{}, err
		}
		for _, line := range req.Lines {
			if err := s.requireSKU(ctx, line.SKU); err != nil {
				return TransferResult{}, err
			}
		}
		payload := transfer.RequestPayload{
			ID:           req.TransferID,
			WarehouseID:  req.WarehouseID,
			FromLocation: req.FromLocation,
			ToLocation:   req.ToLocation,
			Category:     req.Category,
			Lines:        req.Lines,
			Note:         req.Note,
		}
		return s.runTransferCommand(ctx, req.TransferID, req.CommandID, req.OperatorID, "", transfer.CommandTypeRequest, payload)
	})
}

// SubmitTransfer moves a requested transfer into the approval pipeline.
func (s *Service) SubmitTransfer(ctx context.Context, commandID, operatorID, transferID string) (TransferResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (TransferResult, error) {
		return s.runTransferCommand(ctx, transferID, commandID, operatorID, "", transfer.CommandTypeSubmit, nil)
	})
}

// ApproveTransfer approves a submitted transfer. Scrap transfers require
// the approver to hold at least the manager role.
func (s *Service) ApproveTransfer(ctx context.Context, commandID, operatorID, operatorRole, transferID string) (TransferResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (TransferResult, error) {
		payload := transfer.ApprovedPayload{ApproverID: operatorID}
		return s.runTransferCommand(ctx, transferID, commandID, operatorID, operatorRole, transfer.CommandTypeApprove, payload)
	})
}

// RejectTransfer declines a submitted transfer.
func (s *Service) RejectTransfer(ctx context.Context, commandID, operatorID, transferID, reason string) (TransferResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (TransferResult, error) {
		payload := transfer.RejectedPayload{Reason: reason}
		return s.runTransferCommand(ctx, transferID, commandID, operatorID, "", transfer.CommandTypeReject, payload)
	})
}

// CancelTransfer cancels a transfer that has not started executing.
func (s *Service) CancelTransfer(ctx context.Context, commandID, operatorID, transferID, reason string) (TransferResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (TransferResult, error) {
		payload := transfer.CancelledPayload{Reason: reason}
		return s.runTransferCommand(ctx, transferID, commandID, operatorID, "", transfer.CommandTypeCancel, payload)
	})
}

// ExecuteTransfer runs an approved transfer under an exclusive lease.
// Each line moves in two independent ledger appends through the transit
// location; movement ids are derived from the transfer so a resumed
// execution never double-moves a line that already committed a leg. A
// second executor fails fast while the lease is held.
func (s *Service) ExecuteTransfer(ctx context.Context, commandID, operatorID, transferID string) (TransferResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (TransferResult, error) {
		resource := transfer.StreamKey(transferID)
		holder := id.New()
		if err := s.store.AcquireLease(ctx, resource, holder, executionLeaseTTL); err != nil {
			if stderrors.Is(err, storage.ErrLeaseHeld) {
				current, _, _ := s.store.LeaseHolder(ctx, resource)
				return TransferResult{}, errors.WithMetadata(errors.CodeConcurrencyConflict,
					"transfer execution already running",
					map[string]string{"transfer_id": transferID, "holder": current})
			}
			return TransferResult{}, errors.Wrap(errors.CodeInternal, "acquire execution lease", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.store.ReleaseLease(releaseCtx, resource, holder); err != nil {
				s.logger.Warn("release execution lease",
					zap.String("transfer_id", transferID),
					zap.Error(err))
			}
		}()

		return s.executeTransferLocked(ctx, commandID, operatorID, transferID)
	})
}

// executeTransferLocked performs the line movements and bookkeeping. The
// caller holds the execution lease.
func (s *Service) executeTransferLocked(ctx context.Context, commandID, operatorID, transferID string) (TransferResult, error) {
	state, err := s.loadTransfer(ctx, transferID)
	if err != nil {
		return TransferResult{}, err
	}
	if !state.Created {
		return TransferResult{}, errors.New(errors.CodeTransferNotCreated, "transfer does not exist")
	}

	if state.Status != transfer.StatusExecuting {
		if _, err := s.runTransferCommand(ctx, transferID, commandID, operatorID, "", transfer.CommandTypeStartExecution, nil); err != nil {
			return TransferResult{}, err
		}
		state, err = s.loadTransfer(ctx, transferID)
		if err != nil {
			return TransferResult{}, err
		}
	}
	if err := s.store.EnsureTransitLocation(ctx, state.WarehouseID); err != nil {
		return TransferResult{}, errors.Wrap(errors.CodeInternal, "ensure transit location", err)
	}

	for _, line := range state.Lines {
		if line.Executed {
			continue
		}
		if err := s.executeTransferLine(ctx, state, line, operatorID); err != nil {
			return TransferResult{}, err
		}
	}

	return s.runTransferCommand(ctx, transferID, commandID, operatorID, "", transfer.CommandTypeComplete, nil)
}

// executeTransferLine moves one line through transit. Both legs are
// independent appends: a crash between them leaves stock parked in
// transit, visible to the reconciliation sweep and repaired by resuming
// the execution.
func (s *Service) executeTransferLine(ctx context.Context, state transfer.State, line transfer.Line, operatorID string) error {
	outID := transferMovementID(state.ID, line.SKU, "out")
	inID := transferMovementID(state.ID, line.SKU, "in")

	outLeg := movement.Movement{
		ID:           outID,
		WarehouseID:  state.WarehouseID,
		SKU:          line.SKU,
		Quantity:     line.Qty,
		FromLocation: state.FromLocation,
		ToLocation:   transfer.TransitLocation,
		Type:         movement.TypeTransfer,
		OperatorID:   operatorID,
		Timestamp:    s.now().UTC(),
	}
	_, committed, err := s.committedMovement(ctx, outLeg.StreamKey(), outID)
	if err != nil {
		return err
	}
	if !committed {
		if _, err := s.appendMovement(ctx, outLeg, outID); err != nil {
			return err
		}
	}

	inLeg := movement.Movement{
		ID:           inID,
		WarehouseID:  state.WarehouseID,
		SKU:          line.SKU,
		Quantity:     line.Qty,
		FromLocation: transfer.TransitLocation,
		ToLocation:   state.ToLocation,
		Type:         movement.TypeTransfer,
		OperatorID:   operatorID,
		Timestamp:    s.now().UTC(),
	}
	_, committed, err = s.committedMovement(ctx, inLeg.StreamKey(), inID)
	if err != nil {
		return err
	}
	if !committed {
		if _, err := s.appendMovement(ctx, inLeg, inID); err != nil {
			return err
		}
	}

	payload := transfer.LineExecutedPayload{
		SKU:           line.SKU,
		Qty:           line.Qty,
		OutMovementID: outID,
		InMovementID:  inID,
	}
	_, err = s.runTransferCommand(ctx, state.ID, inID, operatorID, "", transfer.CommandTypeRecordLine, payload)
	return err
}

// committedMovement returns the event already appended for the command
// id on the stream, if any. Deterministic movement ids make resumed
// executions and retried picks idempotent.
func (s *Service) committedMovement(ctx context.Context, streamKey, commandID string) (event.Event, bool, error) {
	events, err := s.store.ListStream(ctx, streamKey)
	if err != nil {
		return event.Event{}, false, errors.Wrap(errors.CodeInternal, "replay stock stream", err)
	}
	for _, evt := range events {
		if evt.CommandID == commandID {
			return evt, true, nil
		}
	}
	return event.Event{}, false, nil
}

// GetTransfer replays and returns the transfer state.
func (s *Service) GetTransfer(ctx context.Context, transferID string) (transfer.State, error) {
	state, err := s.loadTransfer(ctx, transferID)
	if err != nil {
		return transfer.State{}, err
	}
	if !state.Created {
		return transfer.State{}, errors.New(errors.CodeTransferNotCreated, "transfer does not exist")
	}
	return state, nil
}

func (s *Service) loadTransfer(ctx context.Context, transferID string) (transfer.State, error) {
	events, err := s.store.ListStream(ctx, transfer.StreamKey(transferID))
	if err != nil {
		return transfer.State{}, errors.Wrap(errors.CodeInternal, "replay transfer", err)
	}
	return transfer.Replay(events), nil
}

func (s *Service) runTransferCommand(ctx context.Context, transferID, commandID, operatorID, operatorRole string, typ command.Type, payload any) (TransferResult, error) {
	streamKey := transfer.StreamKey(transferID)
	_, err := s.decideAndAppend(ctx, streamKey, func(events []event.Event) (command.Decision, error) {
		state := transfer.Replay(events)
		cmd := newDomainCommand(commandID, typ, streamKey, operatorID, operatorRole, payload)
		return transfer.Decide(state, cmd, s.now), nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	state, err := s.loadTransfer(ctx, transferID)
	if err != nil {
		return TransferResult{}, err
	}
	executed := 0
	for _, line := range state.Lines {
		if line.Executed {
			executed++
		}
	}
	return TransferResult{TransferID: transferID, Status: state.Status, LinesExecuted: executed}, nil
}

// transferMovementID derives the stable per-leg movement id.
func transferMovementID(transferID, sku, leg string) string {
	return fmt.Sprintf("trf-%s-%s-%s", transferID, sku, leg)
}
