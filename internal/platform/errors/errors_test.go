package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeConcurrencyConflict, "stream version conflict")
	target := New(CodeConcurrencyConflict, "different message")

	if !stderrors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeNotFound, "missing")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeInternal, "append event", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"domain error", New(CodeInsufficientAvailableStock, "short"), CodeInsufficientAvailableStock},
		{"wrapped domain error", fmt.Errorf("dispatch: %w", New(CodeForbidden, "no")), CodeForbidden},
		{"plain error", fmt.Errorf("boom"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("expected code %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeValidation, codes.InvalidArgument},
		{CodeNotFound, codes.NotFound},
		{CodeForbidden, codes.PermissionDenied},
		{CodeConcurrencyConflict, codes.Aborted},
		{CodeInsufficientAvailableStock, codes.FailedPrecondition},
		{CodeInsufficientBalance, codes.FailedPrecondition},
		{CodeIdempotencyInProgress, codes.Unavailable},
		{CodeInternal, codes.Internal},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("code %s: expected %s, got %s", tt.code, tt.want, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !CodeConcurrencyConflict.Retryable() {
		t.Fatal("expected concurrency conflict to be retryable")
	}
	if !CodeIdempotencyInProgress.Retryable() {
		t.Fatal("expected idempotency in progress to be retryable")
	}
	if CodeValidation.Retryable() {
		t.Fatal("expected validation to be non-retryable")
	}
	if CodeInsufficientAvailableStock.Retryable() {
		t.Fatal("expected insufficient stock to be non-retryable")
	}
}

func TestToGRPCStatusCarriesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeIdempotencyInProgress, "rebuild already running", map[string]string{
		"holder": "worker-2",
	})

	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a grpc status error")
	}
	if st.Code() != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %s", st.Code())
	}
	if st.Message() != "rebuild already running" {
		t.Fatalf("unexpected message %q", st.Message())
	}
	if len(st.Details()) != 1 {
		t.Fatalf("expected one detail, got %d", len(st.Details()))
	}
}
