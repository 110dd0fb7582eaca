package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "bare",
			err:  NewConfigurationError("zap has no steps", nil),
			want: "[configuration] zap has no steps",
		},
		{
			name: "zap and step",
			err:  NewHandlerError("action failed", errors.New("502")).WithZap("z1").WithStep("a1"),
			want: "[handler] action failed (zap=z1, step=a1): 502",
		},
		{
			name: "step only",
			err:  NewCredentialError("no token", nil).WithStep("a2"),
			want: "[credential] no token (step=a2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineError_Classification(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("sweep: %w", NewStorageError("failed to list steps", cause).WithCode(ErrCodeStoreFailed))

	if ClassOf(err) != ErrorClassStorage {
		t.Errorf("ClassOf() = %q", ClassOf(err))
	}
	if CodeOf(err) != ErrCodeStoreFailed {
		t.Errorf("CodeOf() = %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassStorage, Code: ErrCodeStoreFailed}) {
		t.Error("errors.Is should match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassStorage, Code: ErrCodeTimeout}) {
		t.Error("errors.Is matched a different code")
	}

	if ClassOf(cause) != "" || CodeOf(cause) != "" {
		t.Error("plain errors have no class or code")
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"configuration", NewConfigurationError("x", nil), IsConfigurationError, true},
		{"credential", NewCredentialError("x", nil), IsCredentialError, true},
		{"dependency", NewDependencyError("x", nil), IsDependencyError, true},
		{"handler", NewHandlerError("x", nil), IsHandlerError, true},
		{"cancelled", NewCancelledError("x", nil), IsCancelled, true},
		{"context canceled", fmt.Errorf("wrapped: %w", context.Canceled), IsCancelled, true},
		{"deadline is not cancellation", context.DeadlineExceeded, IsCancelled, false},
		{"handler is not configuration", NewHandlerError("x", nil), IsConfigurationError, false},
		{"nil", nil, IsHandlerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEngineError_WithDetail(t *testing.T) {
	err := NewConfigurationError("denied", nil).
		WithDetail("reasons", []string{"service disabled"}).
		WithOperation("authorize")

	if err.Operation != "authorize" {
		t.Errorf("Operation = %q", err.Operation)
	}
	reasons, ok := err.Details["reasons"].([]string)
	if !ok || len(reasons) != 1 {
		t.Errorf("Details[reasons] = %v", err.Details["reasons"])
	}
}
