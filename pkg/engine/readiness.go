package engine

import (
	"context"
	"fmt"
	"time"
)

// ExecutionHistory is the slice of the store the readiness policy reads.
type ExecutionHistory interface {
	LatestZapExecution(ctx context.Context, zapID string) (*Execution, error)
}

// ReadinessEvaluator decides whether a time-based trigger is due.
type ReadinessEvaluator struct {
	history ExecutionHistory
	now     func() time.Time
}

// NewReadinessEvaluator creates an evaluator backed by the execution history.
func NewReadinessEvaluator(history ExecutionHistory) *ReadinessEvaluator {
	return &ReadinessEvaluator{history: history, now: time.Now}
}

// WithClock replaces the evaluator's clock.
func (e *ReadinessEvaluator) WithClock(now func() time.Time) *ReadinessEvaluator {
	e.now = now
	return e
}

// Ready reports whether the trigger should be checked now.
//
// Webhook triggers are never ready. Polling and schedule triggers with a
// positive interval are ready once the latest execution ended at least one
// interval ago. A zap with no execution history is ready only for schedule
// triggers; an unfinished latest execution is never ready.
func (e *ReadinessEvaluator) Ready(ctx context.Context, zapID string, def *TriggerDefinition) (bool, error) {
	if def == nil {
		return false, nil
	}
	if !def.TriggerType.IsTimeBased() || def.PollingInterval <= 0 {
		return false, nil
	}

	latest, err := e.history.LatestZapExecution(ctx, zapID)
	if err != nil {
		return false, fmt.Errorf("failed to load latest execution: %w", err)
	}

	if latest == nil {
		return def.TriggerType == TriggerTypeSchedule, nil
	}
	if latest.EndedAt == nil {
		return false, nil
	}

	due := latest.EndedAt.Add(def.PollingInterval)
	return !e.now().Before(due), nil
}
