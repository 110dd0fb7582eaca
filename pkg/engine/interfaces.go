package engine

import (
	"context"
	"time"
)

// ZapSource lists zaps for the scheduler.
type ZapSource interface {
	// ListActiveZaps returns every zap whose active flag is set.
	ListActiveZaps(ctx context.Context) ([]*Zap, error)

	// GetZap returns nil with a nil error when the zap does not exist.
	GetZap(ctx context.Context, id string) (*Zap, error)
}

// StepSource loads a zap's chain.
type StepSource interface {
	// ListSteps returns all steps of a zap ordered by step_order ascending.
	ListSteps(ctx context.Context, zapID string) ([]*Step, error)
}

// Catalog resolves trigger and action definitions. A nil definition with a
// nil error means the id is unknown.
type Catalog interface {
	GetTrigger(ctx context.Context, id string) (*TriggerDefinition, error)
	GetAction(ctx context.Context, id string) (*ActionDefinition, error)
}

// ConnectionProvider resolves a stored connection to an access token.
type ConnectionProvider interface {
	// GetAccessToken returns ok=false when the connection does not exist or
	// holds no token.
	GetAccessToken(ctx context.Context, connectionID string) (token string, ok bool, err error)
}

// ExecutionStore persists execution bookkeeping.
type ExecutionStore interface {
	StartZapExecution(ctx context.Context, zapID string, startedAt time.Time) (string, error)

	// FinishZapExecution closes an execution. A done status also stamps the
	// zap's last_run_at with endedAt.
	FinishZapExecution(ctx context.Context, executionID, zapID string, status ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error

	// DeleteZapExecution removes an execution and its step executions.
	DeleteZapExecution(ctx context.Context, executionID string) error

	StartStepExecution(ctx context.Context, stepID, executionID string, startedAt time.Time) (string, error)
	FinishStepExecution(ctx context.Context, stepExecutionID string, data map[string]any, status ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error

	// LatestZapExecution returns the most recently started execution of a
	// zap, or nil when there is none.
	LatestZapExecution(ctx context.Context, zapID string) (*Execution, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	ZapSource
	StepSource
	Catalog
	ConnectionProvider
	ExecutionStore
}

// StepInvocation describes a handler call about to be made. It is the input
// handed to a Guard.
type StepInvocation struct {
	ZapID     string   `json:"zap_id"`
	ZapName   string   `json:"zap_name"`
	StepID    string   `json:"step_id"`
	StepType  StepType `json:"step_type"`
	StepOrder int      `json:"step_order"`
	ServiceID string   `json:"service_id"`
	ClassName string   `json:"class_name"`
}

// Guard vetoes handler invocations. A denied trigger aborts the run; a denied
// action degrades like a misconfigured step.
type Guard interface {
	Allow(ctx context.Context, inv StepInvocation) (allowed bool, reasons []string, err error)
}
