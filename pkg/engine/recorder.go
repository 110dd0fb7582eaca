package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openzap/openzap/pkg/telemetry"
)

// ExecutionRecord is an open Execution owned by one chain run.
type ExecutionRecord struct {
	ID        string
	ZapID     string
	StartedAt time.Time

	mu     sync.Mutex
	closed bool
	steps  map[string]*StepRecord
}

// StepRecord is an open StepExecution.
type StepRecord struct {
	ID          string
	ExecutionID string
	StepID      string
	Kind        StepType
	ClassName   string
	StartedAt   time.Time

	closed bool
}

// Recorder opens and closes execution records around each unit of work.
// Every write runs on a context detached from cancellation so records are
// closed even while the process is shutting down.
type Recorder struct {
	store   ExecutionStore
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	logger  *telemetry.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store ExecutionStore, tel *telemetry.Telemetry) *Recorder {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Recorder{
		store:   store,
		metrics: tel.Metrics,
		events:  tel.Events,
		logger:  tel.Logger.NewComponentLogger("recorder"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OpenExecution inserts an in_progress Execution for the zap.
func (r *Recorder) OpenExecution(ctx context.Context, zapID string) (*ExecutionRecord, error) {
	startedAt := r.now()
	id, err := r.store.StartZapExecution(context.WithoutCancel(ctx), zapID, startedAt)
	if err != nil {
		return nil, NewStorageError("failed to open execution", err).
			WithZap(zapID).WithCode(ErrCodeStoreFailed)
	}

	r.metrics.RecordExecutionStarted()
	r.publish(telemetry.Event{
		Type:        telemetry.EventTypeExecutionStarted,
		ZapID:       zapID,
		ExecutionID: id,
		Message:     "execution started",
	})

	return &ExecutionRecord{
		ID:        id,
		ZapID:     zapID,
		StartedAt: startedAt,
		steps:     make(map[string]*StepRecord),
	}, nil
}

// CompleteExecution closes the execution as done and stamps the zap's
// last_run_at.
func (r *Recorder) CompleteExecution(ctx context.Context, rec *ExecutionRecord) error {
	return r.closeExecution(ctx, rec, ExecutionStatusDone, nil)
}

// FailExecution closes the execution as failed. Step records still open are
// closed as failed with the same cause first.
func (r *Recorder) FailExecution(ctx context.Context, rec *ExecutionRecord, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("execution failed")
	}
	return r.closeExecution(ctx, rec, ExecutionStatusFailed, cause)
}

func (r *Recorder) closeExecution(ctx context.Context, rec *ExecutionRecord, status ExecutionStatus, cause error) error {
	if err := r.markClosed(rec); err != nil {
		return err
	}

	var closeErr error
	for _, step := range rec.openSteps() {
		stepCause := cause
		if stepCause == nil {
			stepCause = fmt.Errorf("step left open when execution closed")
		}
		if err := r.CloseStep(ctx, rec, step, nil, stepCause); err != nil && closeErr == nil {
			closeErr = err
		}
	}

	endedAt := r.now()
	duration := elapsed(rec.StartedAt, endedAt)
	errMsg := errorMessage(cause)

	if err := r.store.FinishZapExecution(context.WithoutCancel(ctx), rec.ID, rec.ZapID, status, endedAt, duration, errMsg); err != nil {
		// Leave the record open so the caller can retry the close
		rec.reopen()
		return NewStorageError("failed to close execution", err).
			WithZap(rec.ZapID).WithCode(ErrCodeStoreFailed)
	}

	r.metrics.RecordExecutionFinished(string(status), duration)

	event := telemetry.Event{
		Type:        telemetry.EventTypeExecutionCompleted,
		ZapID:       rec.ZapID,
		ExecutionID: rec.ID,
		Message:     "execution completed",
		Data:        map[string]interface{}{"duration_ms": duration.Milliseconds()},
	}
	if status == ExecutionStatusFailed {
		event.Type = telemetry.EventTypeExecutionFailed
		event.Level = telemetry.EventLevelError
		event.Message = "execution failed"
		event.Data["error"] = *errMsg
	}
	r.publish(event)

	return closeErr
}

// DiscardExecution deletes an execution whose trigger did not fire. The
// store removes its step executions with it.
//
// When the delete fails the execution is closed as failed instead, so no
// in_progress row is left behind to block the zap's next readiness check.
// The delete error is still returned.
func (r *Recorder) DiscardExecution(ctx context.Context, rec *ExecutionRecord) error {
	if err := r.markClosed(rec); err != nil {
		return err
	}

	if err := r.store.DeleteZapExecution(context.WithoutCancel(ctx), rec.ID); err != nil {
		discardErr := NewStorageError("failed to discard execution", err).
			WithZap(rec.ZapID).WithCode(ErrCodeStoreFailed)
		r.logger.WithError(err).Warn("discard failed, closing execution as failed")

		// Fall back to a terminal status
		rec.reopen()
		if ferr := r.FailExecution(ctx, rec, discardErr); ferr != nil {
			return errors.Join(discardErr, ferr)
		}
		return discardErr
	}

	r.metrics.RecordExecutionFinished("discarded", elapsed(rec.StartedAt, r.now()))
	r.publish(telemetry.Event{
		Type:        telemetry.EventTypeExecutionDiscarded,
		ZapID:       rec.ZapID,
		ExecutionID: rec.ID,
		Message:     "trigger did not fire, execution discarded",
	})
	return nil
}

// OpenStep inserts an in_progress StepExecution for step.
func (r *Recorder) OpenStep(ctx context.Context, exec *ExecutionRecord, step *Step, className string) (*StepRecord, error) {
	startedAt := r.now()
	id, err := r.store.StartStepExecution(context.WithoutCancel(ctx), step.ID, exec.ID, startedAt)
	if err != nil {
		return nil, NewStorageError("failed to open step execution", err).
			WithZap(exec.ZapID).WithStep(step.ID).WithCode(ErrCodeStoreFailed)
	}

	rec := &StepRecord{
		ID:          id,
		ExecutionID: exec.ID,
		StepID:      step.ID,
		Kind:        step.StepType,
		ClassName:   className,
		StartedAt:   startedAt,
	}

	exec.mu.Lock()
	exec.steps[id] = rec
	exec.mu.Unlock()

	return rec, nil
}

// CloseStep closes a StepExecution with the captured data. A non-nil cause
// marks it failed and records the error message.
func (r *Recorder) CloseStep(ctx context.Context, exec *ExecutionRecord, rec *StepRecord, data map[string]any, cause error) error {
	exec.mu.Lock()
	if rec.closed {
		exec.mu.Unlock()
		return ErrAlreadyClosed
	}
	rec.closed = true
	delete(exec.steps, rec.ID)
	exec.mu.Unlock()

	status := ExecutionStatusDone
	if cause != nil {
		status = ExecutionStatusFailed
	}
	if data == nil {
		data = map[string]any{}
	}

	endedAt := r.now()
	duration := elapsed(rec.StartedAt, endedAt)
	errMsg := errorMessage(cause)

	if err := r.store.FinishStepExecution(context.WithoutCancel(ctx), rec.ID, data, status, endedAt, duration, errMsg); err != nil {
		return NewStorageError("failed to close step execution", err).
			WithZap(exec.ZapID).WithStep(rec.StepID).WithCode(ErrCodeStoreFailed)
	}

	r.metrics.RecordStepExecution(string(rec.Kind), rec.ClassName, string(status), duration)

	event := telemetry.Event{
		Type:        telemetry.EventTypeStepCompleted,
		ZapID:       exec.ZapID,
		ExecutionID: exec.ID,
		StepID:      rec.StepID,
		Message:     fmt.Sprintf("%s step closed", rec.Kind),
		Data: map[string]interface{}{
			"class_name":  rec.ClassName,
			"duration_ms": duration.Milliseconds(),
		},
	}
	if cause != nil {
		event.Type = telemetry.EventTypeStepFailed
		event.Level = telemetry.EventLevelError
		event.Data["error"] = *errMsg
	}
	r.publish(event)

	return nil
}

func (r *Recorder) markClosed(rec *ExecutionRecord) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return ErrAlreadyClosed
	}
	rec.closed = true
	return nil
}

func (rec *ExecutionRecord) reopen() {
	rec.mu.Lock()
	rec.closed = false
	rec.mu.Unlock()
}

func (rec *ExecutionRecord) openSteps() []*StepRecord {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	steps := make([]*StepRecord, 0, len(rec.steps))
	for _, s := range rec.steps {
		steps = append(steps, s)
	}
	return steps
}

func (r *Recorder) publish(event telemetry.Event) {
	if err := r.events.Publish(event); err != nil {
		r.logger.WithError(err).Debug("event not published")
	}
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
