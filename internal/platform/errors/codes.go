// Package errors provides structured error handling with stable machine codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// General taxonomy
	CodeValidation             Code = "VALIDATION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
	CodeConcurrencyConflict    Code = "CONCURRENCY_CONFLICT"
	CodeIdempotencyInProgress  Code = "IDEMPOTENCY_IN_PROGRESS"
	CodeInternal               Code = "INTERNAL"

	// Stock errors
	CodeInsufficientAvailableStock Code = "INSUFFICIENT_AVAILABLE_STOCK"
	CodeMovementInvalidQuantity    Code = "MOVEMENT_INVALID_QUANTITY"
	CodeMovementSameLocation       Code = "MOVEMENT_SAME_LOCATION"
	CodeStockViewInconsistent      Code = "STOCK_VIEW_INCONSISTENT"

	// Reservation errors
	CodeReservationNotCreated        Code = "RESERVATION_NOT_CREATED"
	CodeReservationAlreadyExists     Code = "RESERVATION_ALREADY_EXISTS"
	CodeReservationStatusTransition  Code = "RESERVATION_INVALID_STATUS_TRANSITION"
	CodeReservationLinesEmpty        Code = "RESERVATION_LINES_EMPTY"
	CodeReservationLineInvalid       Code = "RESERVATION_LINE_INVALID"
	CodeReservationLineUnknown       Code = "RESERVATION_LINE_UNKNOWN"
	CodeReservationQuantityExceeded  Code = "RESERVATION_QUANTITY_EXCEEDED"
	CodeReservationAllocationShort   Code = "RESERVATION_ALLOCATION_SHORT"
	CodeReservationPayloadInvalid    Code = "RESERVATION_PAYLOAD_INVALID"

	// Transfer errors
	CodeTransferNotCreated       Code = "TRANSFER_NOT_CREATED"
	CodeTransferAlreadyExists    Code = "TRANSFER_ALREADY_EXISTS"
	CodeTransferStatusTransition Code = "TRANSFER_INVALID_STATUS_TRANSITION"
	CodeTransferApprovalRequired Code = "TRANSFER_APPROVAL_REQUIRED"
	CodeTransferLinesEmpty       Code = "TRANSFER_LINES_EMPTY"
	CodeTransferLineInvalid      Code = "TRANSFER_LINE_INVALID"
	CodeTransferLineUnknown      Code = "TRANSFER_LINE_UNKNOWN"
	CodeTransferLinesIncomplete  Code = "TRANSFER_LINES_INCOMPLETE"
	CodeTransferPayloadInvalid   Code = "TRANSFER_PAYLOAD_INVALID"

	// Valuation errors
	CodeValuationNotInitialized     Code = "VALUATION_NOT_INITIALIZED"
	CodeValuationAlreadyInitialized Code = "VALUATION_ALREADY_INITIALIZED"
	CodeValuationAmountInvalid      Code = "VALUATION_AMOUNT_INVALID"
	CodeValuationPayloadInvalid     Code = "VALUATION_PAYLOAD_INVALID"
	CodeInsufficientBalance         Code = "INSUFFICIENT_BALANCE"

	// Projection errors
	CodeProjectionUnknown          Code = "PROJECTION_UNKNOWN"
	CodeProjectionChecksumMismatch Code = "PROJECTION_CHECKSUM_MISMATCH"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeValidation,
		CodeMovementInvalidQuantity,
		CodeMovementSameLocation,
		CodeReservationLinesEmpty,
		CodeReservationLineInvalid,
		CodeReservationPayloadInvalid,
		CodeTransferLinesEmpty,
		CodeTransferLineInvalid,
		CodeTransferPayloadInvalid,
		CodeValuationAmountInvalid,
		CodeValuationPayloadInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the operation
	case CodeReservationStatusTransition,
		CodeReservationQuantityExceeded,
		CodeReservationAllocationShort,
		CodeTransferStatusTransition,
		CodeTransferApprovalRequired,
		CodeTransferLinesIncomplete,
		CodeValuationNotInitialized,
		CodeInsufficientAvailableStock,
		CodeInsufficientBalance,
		CodeStockViewInconsistent,
		CodeProjectionChecksumMismatch:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeReservationNotCreated,
		CodeTransferNotCreated,
		CodeReservationLineUnknown,
		CodeTransferLineUnknown,
		CodeProjectionUnknown:
		return codes.NotFound

	// PermissionDenied - caller lacks the required role
	case CodeForbidden:
		return codes.PermissionDenied

	// AlreadyExists - unique resource constraint
	case CodeReservationAlreadyExists,
		CodeTransferAlreadyExists,
		CodeValuationAlreadyInitialized:
		return codes.AlreadyExists

	// Aborted - optimistic concurrency conflict, retryable by the caller
	case CodeConcurrencyConflict:
		return codes.Aborted

	// Unavailable - transient, poll or retry later
	case CodeIdempotencyInProgress:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// Retryable reports whether callers may retry the failed command with backoff.
// Validation and business-rule rejections are never retryable.
func (c Code) Retryable() bool {
	return c == CodeConcurrencyConflict || c == CodeIdempotencyInProgress
}
