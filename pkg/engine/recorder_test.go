package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzap/openzap/pkg/telemetry"
)

func newTestRecorder(store ExecutionStore, tel *telemetry.Telemetry, clock *time.Time) *Recorder {
	r := NewRecorder(store, tel)
	r.now = func() time.Time { return *clock }
	return r
}

func TestRecorder_CompleteExecution(t *testing.T) {
	store := newMockStore()
	store.addZap(&Zap{ID: "z1", IsActive: true})
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)

	step, err := rec.OpenStep(ctx, exec, &Step{ID: "t", StepType: StepTypeTrigger}, "test.trigger")
	require.NoError(t, err)

	clock = clock.Add(1500 * time.Millisecond)
	require.NoError(t, rec.CloseStep(ctx, exec, step, map[string]any{"k": "v"}, nil))
	require.ErrorIs(t, rec.CloseStep(ctx, exec, step, nil, nil), ErrAlreadyClosed)

	clock = clock.Add(500 * time.Millisecond)
	require.NoError(t, rec.CompleteExecution(ctx, exec))
	require.ErrorIs(t, rec.CompleteExecution(ctx, exec), ErrAlreadyClosed)
	require.ErrorIs(t, rec.DiscardExecution(ctx, exec), ErrAlreadyClosed)

	got := store.executionsFor("z1")
	require.Len(t, got, 1)
	assert.Equal(t, ExecutionStatusDone, got[0].Status)
	assert.Equal(t, 2*time.Second, got[0].Duration)
	assert.True(t, store.lastRunAt("z1").Equal(clock))

	steps := store.stepExecutionsFor(exec.ID)
	require.Len(t, steps, 1)
	assert.Equal(t, ExecutionStatusDone, steps[0].Status)
	assert.Equal(t, 1500*time.Millisecond, steps[0].Duration)
	assert.Equal(t, map[string]any{"k": "v"}, steps[0].Data)
	assert.Nil(t, steps[0].Error)
}

func TestRecorder_FailExecutionClosesOpenSteps(t *testing.T) {
	store := newMockStore()
	store.addZap(&Zap{ID: "z1", IsActive: true})
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)
	_, err = rec.OpenStep(ctx, exec, &Step{ID: "a1", StepType: StepTypeAction, StepOrder: 1}, "test.echo")
	require.NoError(t, err)

	cause := errors.New("worker stopped")
	require.NoError(t, rec.FailExecution(ctx, exec, cause))

	got := store.executionsFor("z1")
	require.Len(t, got, 1)
	assert.Equal(t, ExecutionStatusFailed, got[0].Status)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, "worker stopped", *got[0].Error)
	assert.Nil(t, store.lastRunAt("z1"), "failed runs do not stamp last_run_at")

	steps := store.stepExecutionsFor(exec.ID)
	require.Len(t, steps, 1)
	assert.Equal(t, ExecutionStatusFailed, steps[0].Status)
	assert.Equal(t, map[string]any{}, steps[0].Data)
	assert.Zero(t, store.inProgress())
}

func TestRecorder_DiscardExecution(t *testing.T) {
	store := newMockStore()
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)
	step, err := rec.OpenStep(ctx, exec, &Step{ID: "t", StepType: StepTypeTrigger}, "test.trigger")
	require.NoError(t, err)
	require.NoError(t, rec.CloseStep(ctx, exec, step, nil, nil))

	require.NoError(t, rec.DiscardExecution(ctx, exec))
	assert.Empty(t, store.executionsFor("z1"))
	assert.Empty(t, store.stepExecutionsFor(exec.ID))
}

func TestRecorder_DiscardFallsBackToFailed(t *testing.T) {
	store := newMockStore()
	store.deleteErr = errors.New("database is locked")
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)

	err = rec.DiscardExecution(ctx, exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	execs := store.executionsFor("z1")
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
	require.NotNil(t, execs[0].EndedAt)
	require.NotNil(t, execs[0].Error)
	assert.Contains(t, *execs[0].Error, "database is locked")
	assert.Zero(t, store.inProgress())

	require.ErrorIs(t, rec.DiscardExecution(ctx, exec), ErrAlreadyClosed)
}

func TestRecorder_FailedCloseCanBeRetried(t *testing.T) {
	store := newMockStore()
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)
	store.deleteErr = errors.New("disk full")

	// Both the delete and the fallback close fail on an unknown row
	orphan := &ExecutionRecord{ID: "missing", ZapID: "z1", steps: map[string]*StepRecord{}}
	require.Error(t, rec.DiscardExecution(ctx, orphan))
	err = rec.CompleteExecution(ctx, orphan)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyClosed)

	store.deleteErr = nil
	require.NoError(t, rec.DiscardExecution(ctx, exec))
	assert.Empty(t, store.executionsFor("z1"))
}

func TestRecorder_WritesSurviveCancellation(t *testing.T) {
	store := newMockStore()
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, nil, &clock)

	ctx, cancel := context.WithCancel(context.Background())
	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)
	cancel()

	require.NoError(t, rec.FailExecution(ctx, exec, context.Canceled))
	assert.Zero(t, store.inProgress())
}

func TestRecorder_PublishesEvents(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	tel := telemetry.NewNop()
	tel.Events = telemetry.NewEventPublisher(cfg.Events)

	var types []string
	tel.Events.Subscribe(func(e telemetry.Event) {
		types = append(types, e.Type)
	}, nil)

	store := newMockStore()
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec := newTestRecorder(store, tel, &clock)
	ctx := context.Background()

	exec, err := rec.OpenExecution(ctx, "z1")
	require.NoError(t, err)
	step, err := rec.OpenStep(ctx, exec, &Step{ID: "t", StepType: StepTypeTrigger}, "test.trigger")
	require.NoError(t, err)
	require.NoError(t, rec.CloseStep(ctx, exec, step, nil, errors.New("bad token")))
	require.NoError(t, rec.FailExecution(ctx, exec, errors.New("bad token")))
	require.NoError(t, tel.Events.Shutdown(ctx))

	assert.Equal(t, []string{
		telemetry.EventTypeExecutionStarted,
		telemetry.EventTypeStepFailed,
		telemetry.EventTypeExecutionFailed,
	}, types)
}
