package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/id"
	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/projection"
)

// ReconcileReport lists transit balances that stopped moving and the
// transfers that never finished executing.
type ReconcileReport struct {
	StuckRows           []projection.Row `json:"stuck_rows"`
	IncompleteTransfers []string         `json:"incomplete_transfers"`
	ResumedTransfers    []string         `json:"resumed_transfers"`
}

// ReconcileTransit sweeps the transit location for balances older than
// olderThan and reports transfers with a started but unfinished
// execution. With resume set, each unfinished transfer is re-executed;
// deterministic movement ids make the resume safe against double moves.
func (s *Service) ReconcileTransit(ctx context.Context, operatorID string, olderThan time.Duration, resume bool) (ReconcileReport, error) {
	if err := ctx.Err(); err != nil {
		return ReconcileReport{}, err
	}

	cutoff := s.now().UTC().Add(-olderThan)
	rows, err := s.store.ListTransitRows(ctx, transfer.TransitLocation, cutoff)
	if err != nil {
		return ReconcileReport{}, errors.Wrap(errors.CodeInternal, "list transit rows", err)
	}

	streams, err := s.store.ListIncompleteTransferStreams(ctx)
	if err != nil {
		return ReconcileReport{}, errors.Wrap(errors.CodeInternal, "list incomplete transfers", err)
	}

	report := ReconcileReport{StuckRows: rows}
	for _, streamKey := range streams {
		transferID := strings.TrimPrefix(streamKey, "transfer/")
		report.IncompleteTransfers = append(report.IncompleteTransfers, transferID)
	}

	if !resume {
		return report, nil
	}
	for _, transferID := range report.IncompleteTransfers {
		commandID := "reconcile-" + transferID + "-" + id.New()
		if _, err := s.ExecuteTransfer(ctx, commandID, operatorID, transferID); err != nil {
			s.logger.Warn("resume transfer execution",
				zap.String("transfer_id", transferID),
				zap.Error(err))
			continue
		}
		report.ResumedTransfers = append(report.ResumedTransfers, transferID)
	}
	return report, nil
}
