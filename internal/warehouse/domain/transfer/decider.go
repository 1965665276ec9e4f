package transfer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Transfer command types.
const (
	CommandTypeRequest        command.Type = "transfer.request"
	CommandTypeSubmit         command.Type = "transfer.submit"
	CommandTypeApprove        command.Type = "transfer.approve"
	CommandTypeReject         command.Type = "transfer.reject"
	CommandTypeStartExecution command.Type = "transfer.start_execution"
	CommandTypeRecordLine     command.Type = "transfer.record_line"
	CommandTypeComplete       command.Type = "transfer.complete"
	CommandTypeCancel         command.Type = "transfer.cancel"
)

// Rejection codes surfaced by the transfer decider.
const (
	RejectionCodeAlreadyExists    = "TRANSFER_ALREADY_EXISTS"
	RejectionCodeNotCreated       = "TRANSFER_NOT_CREATED"
	RejectionCodeLinesEmpty       = "TRANSFER_LINES_EMPTY"
	RejectionCodeLineInvalid      = "TRANSFER_LINE_INVALID"
	RejectionCodeLineUnknown      = "TRANSFER_LINE_UNKNOWN"
	RejectionCodeStatusTransition = "TRANSFER_INVALID_STATUS_TRANSITION"
	RejectionCodeApprovalRequired = "TRANSFER_APPROVAL_REQUIRED"
	RejectionCodeLinesIncomplete  = "TRANSFER_LINES_INCOMPLETE"
	RejectionCodePayloadInvalid   = "TRANSFER_PAYLOAD_INVALID"
)

// decodePayload reports whether the command payload unmarshals into dst.
// An absent payload leaves dst at its zero value.
func decodePayload(cmd command.Command, dst any) bool {
	return len(cmd.PayloadJSON) == 0 || json.Unmarshal(cmd.PayloadJSON, dst) == nil
}

func rejectPayload() command.Decision {
	return command.Reject(command.Rejection{
		Code:    RejectionCodePayloadInvalid,
		Message: "command payload is not valid JSON",
	})
}

// Decide returns the decision for a transfer command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}

	switch cmd.Type {
	case CommandTypeRequest:
		return decideRequest(state, cmd, now)
	case CommandTypeSubmit:
		return decideSubmit(state, cmd, now)
	case CommandTypeApprove:
		return decideApprove(state, cmd, now)
	case CommandTypeReject:
		return decideReject(state, cmd, now)
	case CommandTypeStartExecution:
		return decideStartExecution(state, cmd, now)
	case CommandTypeRecordLine:
		return decideRecordLine(state, cmd, now)
	case CommandTypeComplete:
		return decideComplete(state, cmd, now)
	case CommandTypeCancel:
		return decideCancel(state, cmd, now)
	}
	return command.Decision{}
}

func decideRequest(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAlreadyExists,
			Message: "transfer already exists",
		})
	}
	var payload RequestPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.WarehouseID = strings.TrimSpace(payload.WarehouseID)
	payload.FromLocation = strings.TrimSpace(payload.FromLocation)
	payload.ToLocation = strings.TrimSpace(payload.ToLocation)
	if payload.Category == "" {
		payload.Category = CategoryStandard
	}
	if payload.ID == "" || payload.WarehouseID == "" {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "transfer id and warehouse id are required",
		})
	}
	if payload.FromLocation == "" || payload.ToLocation == "" {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "transfer requires a source and a destination location",
		})
	}
	if payload.FromLocation == payload.ToLocation {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "source and destination locations must differ",
		})
	}
	if payload.FromLocation == TransitLocation || payload.ToLocation == TransitLocation {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "the in-transit location cannot be named directly",
		})
	}
	if !payload.Category.IsValid() {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "transfer category is invalid",
		})
	}
	if len(payload.Lines) == 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLinesEmpty,
			Message: "transfer requires at least one line",
		})
	}
	seen := make(map[string]bool, len(payload.Lines))
	for _, line := range payload.Lines {
		if strings.TrimSpace(line.SKU) == "" || line.Qty <= 0 {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeLineInvalid,
				Message: "transfer lines require a sku and a positive quantity",
			})
		}
		if seen[line.SKU] {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeLineInvalid,
				Message: "transfer lines must name distinct skus",
			})
		}
		seen[line.SKU] = true
	}

	return command.Accept(newEvent(cmd, EventTypeRequested, payload, now))
}

func decideSubmit(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	if state.Status != StatusRequested {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "transfer can only be submitted from REQUESTED",
		})
	}

	payload := SubmittedPayload{RequiresApproval: state.Category.RequiresApproval()}
	return command.Accept(newEvent(cmd, EventTypeSubmitted, payload, now))
}

func decideApprove(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	if state.Status != StatusSubmitted && state.Status != StatusPendingApproval {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "transfer can only be approved once submitted",
		})
	}
	if state.Category.RequiresApproval() && !RoleAtLeastManager(cmd.OperatorRole) {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeApprovalRequired,
			Message: "scrap transfers require manager approval",
		})
	}

	payload := ApprovedPayload{ApproverID: cmd.OperatorID}
	return command.Accept(newEvent(cmd, EventTypeApproved, payload, now))
}

func decideReject(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	if state.Status != StatusSubmitted && state.Status != StatusPendingApproval {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "transfer can only be rejected once submitted",
		})
	}
	var payload RejectedPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}

	return command.Accept(newEvent(cmd, EventTypeRejected, payload, now))
}

func decideStartExecution(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	// Resuming an interrupted execution is allowed.
	if state.Status == StatusExecuting {
		return command.Accept()
	}
	if state.Status != StatusApproved {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "execution can only start from APPROVED",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeExecutionStarted, struct{}{}, now))
}

func decideRecordLine(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	if state.Status != StatusExecuting {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "lines can only be recorded while EXECUTING",
		})
	}
	var payload LineExecutedPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	line, ok := state.LineBySKU(payload.SKU)
	if !ok {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineUnknown,
			Message: "recorded line names an unknown sku",
		})
	}
	// Recording the same line twice is a no-op success.
	if line.Executed {
		return command.Accept()
	}
	if payload.Qty != line.Qty {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "recorded quantity must match the requested line quantity",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeLineExecuted, payload, now))
}

func decideComplete(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	// Completing a completed transfer is a no-op success.
	if state.Status == StatusCompleted {
		return command.Accept()
	}
	if state.Status != StatusExecuting {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "transfer can only complete from EXECUTING",
		})
	}
	if !state.AllLinesExecuted() {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLinesIncomplete,
			Message: "every line must be executed before completion",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeCompleted, struct{}{}, now))
}

func decideCancel(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "transfer does not exist",
		})
	}
	switch state.Status {
	case StatusRequested, StatusSubmitted, StatusPendingApproval, StatusApproved:
	default:
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "transfer cannot be cancelled once executing",
		})
	}
	var payload CancelledPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}

	return command.Accept(newEvent(cmd, EventTypeCancelled, payload, now))
}

func newEvent(cmd command.Command, typ event.Type, payload any, now func() time.Time) event.Event {
	payloadJSON, _ := json.Marshal(payload)
	return event.Event{
		StreamKey:   cmd.StreamKey,
		Type:        typ,
		CommandID:   cmd.ID,
		OperatorID:  cmd.OperatorID,
		Timestamp:   now().UTC(),
		PayloadJSON: payloadJSON,
	}
}
