package app

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// failedResult is the persisted shape of a terminal business failure, so a
// replayed command reproduces the original rejection instead of re-running.
type failedResult struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

// dispatch gives execute exactly-once semantics keyed by commandID. The
// first caller reserves the command id and runs; duplicates get the cached
// terminal result, or IDEMPOTENCY_IN_PROGRESS while the winner is still
// running. Only terminal outcomes are recorded: retryable and internal
// failures release the reservation so the caller may retry with the same
// command id.
func dispatch[T any](ctx context.Context, s *Service, commandID string, execute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(commandID) == "" {
		return zero, errors.New(errors.CodeValidation, "command id is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	now := s.now().UTC()
	reserved, existing, err := s.store.ReserveCommand(ctx, commandID, now)
	if err != nil {
		return zero, errors.Wrap(errors.CodeInternal, "reserve command", err)
	}
	if !reserved {
		return replayOutcome[T](commandID, existing)
	}

	result, execErr := execute(ctx)
	if execErr != nil {
		code := errors.CodeOf(execErr)
		if code.Retryable() || code == errors.CodeInternal || code == errors.CodeUnknown {
			if relErr := s.store.ReleaseCommand(ctx, commandID); relErr != nil {
				s.logger.Warn("release command reservation",
					zap.String("command_id", commandID),
					zap.Error(relErr))
			}
			return zero, execErr
		}
		payload, _ := json.Marshal(failedResult{Code: code, Message: execErr.Error()})
		if recErr := s.store.RecordCommandResult(ctx, commandID, storage.CommandFailed, payload, s.now().UTC()); recErr != nil {
			s.logger.Warn("record failed command result",
				zap.String("command_id", commandID),
				zap.Error(recErr))
		}
		return zero, execErr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, errors.Wrap(errors.CodeInternal, "marshal command result", err)
	}
	if err := s.store.RecordCommandResult(ctx, commandID, storage.CommandCompleted, payload, s.now().UTC()); err != nil {
		// The ledger write already committed. Surfacing an error here would
		// make the caller retry a command that succeeded, so log and return
		// the result.
		s.logger.Error("record completed command result",
			zap.String("command_id", commandID),
			zap.Error(err))
	}
	return result, nil
}

func replayOutcome[T any](commandID string, record storage.CommandRecord) (T, error) {
	var zero T
	switch record.Status {
	case storage.CommandCompleted:
		var result T
		if len(record.ResultJSON) > 0 {
			if err := json.Unmarshal(record.ResultJSON, &result); err != nil {
				return zero, errors.Wrap(errors.CodeInternal, "decode cached command result", err)
			}
		}
		return result, nil
	case storage.CommandFailed:
		var failure failedResult
		if len(record.ResultJSON) > 0 {
			if err := json.Unmarshal(record.ResultJSON, &failure); err != nil {
				return zero, errors.Wrap(errors.CodeInternal, "decode cached command failure", err)
			}
		}
		if failure.Code == "" {
			failure.Code = errors.CodeUnknown
		}
		return zero, errors.New(failure.Code, failure.Message)
	default:
		return zero, errors.WithMetadata(errors.CodeIdempotencyInProgress,
			"command is still being processed",
			map[string]string{"command_id": commandID})
	}
}
