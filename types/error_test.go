package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreFailure, "redis unavailable").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true)

	if GetErrorCode(err) != ErrStoreFailure {
		t.Fatalf("expected code %s, got %s", ErrStoreFailure, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestDomainConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
	}{
		{"not found", NewNotFoundError("team", "ghost"), ErrNotFound, http.StatusNotFound},
		{"validation", NewValidationError("clause %s unknown", "c9"), ErrValidation, http.StatusBadRequest},
		{"invalid state", NewInvalidStateError("run is %s", "COMPLETED"), ErrInvalidState, http.StatusConflict},
	}

	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.code, tt.err.Code)
		}
		if tt.err.HTTPStatus != tt.status {
			t.Fatalf("%s: expected status %d, got %d", tt.name, tt.status, tt.err.HTTPStatus)
		}
	}
}

func TestIsErrorCode_WalksWrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewValidationError("bad delta")
	outer := NewError(ErrAgentFailed, "agent parser failed").WithCause(inner)
	wrapped := fmt.Errorf("stage risk: %w", outer)

	if !IsErrorCode(wrapped, ErrAgentFailed) {
		t.Fatalf("expected AGENT_FAILED in chain")
	}
	if !IsErrorCode(wrapped, ErrValidation) {
		t.Fatalf("expected VALIDATION in chain")
	}
	if IsErrorCode(wrapped, ErrNotFound) {
		t.Fatalf("did not expect NOT_FOUND in chain")
	}
	if IsErrorCode(errors.New("plain"), ErrValidation) {
		t.Fatalf("plain error carries no code")
	}
}
