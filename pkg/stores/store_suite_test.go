package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openzap/openzap/pkg/engine"
	"github.com/openzap/openzap/pkg/registry"
)

// runStoreSuite exercises the Store contract against a migrated, empty
// store. Both backends run it.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Zaps", func(t *testing.T) { testZaps(t, newStore(t)) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("Connections", func(t *testing.T) { testConnections(t, newStore(t)) })
	t.Run("ExecutionLifecycle", func(t *testing.T) { testExecutionLifecycle(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("FailStaleExecutions", func(t *testing.T) { testFailStale(t, newStore(t)) })
	t.Run("ChainEndToEnd", func(t *testing.T) { testChainEndToEnd(t, newStore(t)) })
}

func strPtr(s string) *string { return &s }

// seedZap creates a zap with a schedule trigger and one echo action.
func seedZap(t *testing.T, store Store, zapID string, active bool) {
	t.Helper()
	ctx := context.Background()

	if err := store.PutTrigger(ctx, &engine.TriggerDefinition{
		ID: "trig-every", ServiceID: "schedule", Name: "Every minute", ClassName: "test.trigger",
		TriggerType: engine.TriggerTypeSchedule, PollingInterval: time.Minute,
	}); err != nil {
		t.Fatalf("failed to put trigger: %v", err)
	}
	if err := store.PutAction(ctx, &engine.ActionDefinition{
		ID: "act-echo", ServiceID: "core", Name: "Echo", ClassName: "test.echo",
	}); err != nil {
		t.Fatalf("failed to put action: %v", err)
	}
	if err := store.CreateZap(ctx, &engine.Zap{ID: zapID, Name: "zap " + zapID, IsActive: active}); err != nil {
		t.Fatalf("failed to create zap: %v", err)
	}
	steps := []*engine.Step{
		{ID: zapID + "-t", ZapID: zapID, StepType: engine.StepTypeTrigger, StepOrder: 0, TriggerID: "trig-every"},
		{
			ID: zapID + "-a1", ZapID: zapID, StepType: engine.StepTypeAction, StepOrder: 1,
			ActionID: "act-echo", SourceStepID: strPtr(zapID + "-t"),
			Payload: map[string]any{"text": "fired at {{fired_at}}"},
		},
	}
	for _, step := range steps {
		if err := store.CreateStep(ctx, step); err != nil {
			t.Fatalf("failed to create step %s: %v", step.ID, err)
		}
	}
}

func testZaps(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)
	seedZap(t, store, "z2", false)

	active, err := store.ListActiveZaps(ctx)
	if err != nil {
		t.Fatalf("failed to list active zaps: %v", err)
	}
	if len(active) != 1 || active[0].ID != "z1" {
		t.Fatalf("expected only z1 active, got %+v", active)
	}

	if err := store.SetZapActive(ctx, "z2", true); err != nil {
		t.Fatalf("failed to activate zap: %v", err)
	}
	active, _ = store.ListActiveZaps(ctx)
	if len(active) != 2 {
		t.Errorf("expected 2 active zaps, got %d", len(active))
	}

	if err := store.SetZapActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	zap, err := store.GetZap(ctx, "z1")
	if err != nil || zap == nil {
		t.Fatalf("failed to get zap: %v", err)
	}
	if zap.Name != "zap z1" || !zap.IsActive || zap.LastRunAt != nil {
		t.Errorf("unexpected zap: %+v", zap)
	}

	zap, err = store.GetZap(ctx, "missing")
	if err != nil || zap != nil {
		t.Errorf("expected nil zap without error, got %+v, %v", zap, err)
	}

	all, err := store.ListZaps(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("expected 2 zaps, got %d (%v)", len(all), err)
	}
}

func testSteps(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)

	conn := "conn-1"
	extra := &engine.Step{
		ID: "z1-a2", ZapID: "z1", StepType: engine.StepTypeAction, StepOrder: 2,
		ActionID: "act-echo", ConnectionID: &conn, SourceStepID: strPtr("z1-a1"),
		Payload: map[string]any{"nested": map[string]any{"n": float64(1)}, "list": []any{"a"}},
	}
	if err := store.CreateStep(ctx, extra); err != nil {
		t.Fatalf("failed to create step: %v", err)
	}

	steps, err := store.ListSteps(ctx, "z1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, want := range []string{"z1-t", "z1-a1", "z1-a2"} {
		if steps[i].ID != want {
			t.Errorf("step %d: expected %s, got %s", i, want, steps[i].ID)
		}
	}

	trigger := steps[0]
	if trigger.StepType != engine.StepTypeTrigger || trigger.TriggerID != "trig-every" {
		t.Fatalf("unexpected trigger step: %+v", trigger)
	}
	if trigger.ConnectionID != nil || trigger.SourceStepID != nil || trigger.ActionID != "" {
		t.Errorf("trigger step has action fields: %+v", trigger)
	}

	got := steps[2]
	if got.StepType != engine.StepTypeAction {
		t.Fatalf("expected action step, got %s", got.StepType)
	}
	if got.ConnectionID == nil || *got.ConnectionID != "conn-1" {
		t.Errorf("connection id not round-tripped: %v", got.ConnectionID)
	}
	if got.SourceStepID == nil || *got.SourceStepID != "z1-a1" {
		t.Errorf("source step id not round-tripped: %v", got.SourceStepID)
	}
	nested, ok := got.Payload["nested"].(map[string]any)
	if !ok || nested["n"] != float64(1) {
		t.Errorf("payload not round-tripped: %#v", got.Payload)
	}

	if err := store.CreateStep(ctx, &engine.Step{ID: "bad", ZapID: "z1", StepType: engine.StepTypeAction}); err == nil {
		t.Error("expected validation error for action step without action id")
	}
}

func testCatalog(t *testing.T, store Store) {
	ctx := context.Background()

	def := &engine.TriggerDefinition{
		ID: "trig-issues", ServiceID: "github", Name: "New issue", ClassName: "http.poll_json",
		TriggerType: engine.TriggerTypePolling, PollingInterval: 90 * time.Second,
		Variables: map[string]string{"issueUrl": "issue.html_url"},
	}
	if err := store.PutTrigger(ctx, def); err != nil {
		t.Fatalf("failed to put trigger: %v", err)
	}

	got, err := store.GetTrigger(ctx, "trig-issues")
	if err != nil || got == nil {
		t.Fatalf("failed to get trigger: %v", err)
	}
	if got.PollingInterval != 90*time.Second || got.TriggerType != engine.TriggerTypePolling {
		t.Errorf("unexpected trigger: %+v", got)
	}
	if got.Variables["issueUrl"] != "issue.html_url" {
		t.Errorf("variables not round-tripped: %v", got.Variables)
	}

	def.Name = "New issue (renamed)"
	if err := store.PutTrigger(ctx, def); err != nil {
		t.Fatalf("failed to replace trigger: %v", err)
	}
	got, _ = store.GetTrigger(ctx, "trig-issues")
	if got.Name != "New issue (renamed)" {
		t.Errorf("put did not replace: %s", got.Name)
	}

	missing, err := store.GetTrigger(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil definition, got %+v, %v", missing, err)
	}

	if err := store.PutTrigger(ctx, &engine.TriggerDefinition{
		ID: "bad", ClassName: "x", TriggerType: engine.TriggerTypePolling,
	}); err == nil {
		t.Error("expected validation error for polling trigger without interval")
	}

	if err := store.PutAction(ctx, &engine.ActionDefinition{ID: "act-log", ClassName: "core.log"}); err != nil {
		t.Fatalf("failed to put action: %v", err)
	}
	action, err := store.GetAction(ctx, "act-log")
	if err != nil || action == nil || action.ClassName != "core.log" || action.Variables != nil {
		t.Errorf("unexpected action: %+v, %v", action, err)
	}

	triggers, _ := store.ListTriggers(ctx)
	actions, _ := store.ListActions(ctx)
	if len(triggers) != 1 || len(actions) != 1 {
		t.Errorf("expected 1 trigger and 1 action, got %d and %d", len(triggers), len(actions))
	}
}

func testConnections(t *testing.T, store Store) {
	ctx := context.Background()

	if err := store.PutConnection(ctx, &Connection{ID: "conn-1", ServiceID: "github", AccessToken: "ghp_x"}); err != nil {
		t.Fatalf("failed to put connection: %v", err)
	}
	if err := store.PutConnection(ctx, &Connection{ID: "conn-revoked", ServiceID: "github"}); err != nil {
		t.Fatalf("failed to put connection: %v", err)
	}

	tests := []struct {
		id        string
		wantToken string
		wantOK    bool
	}{
		{"conn-1", "ghp_x", true},
		{"conn-revoked", "", false},
		{"conn-missing", "", false},
	}
	for _, tt := range tests {
		token, ok, err := store.GetAccessToken(ctx, tt.id)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.id, err)
		}
		if token != tt.wantToken || ok != tt.wantOK {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tt.id, token, ok, tt.wantToken, tt.wantOK)
		}
	}
}

func testExecutionLifecycle(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)

	latest, err := store.LatestZapExecution(ctx, "z1")
	if err != nil || latest != nil {
		t.Fatalf("expected no history, got %+v, %v", latest, err)
	}

	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	first, err := store.StartZapExecution(ctx, "z1", start)
	if err != nil {
		t.Fatalf("failed to start execution: %v", err)
	}
	stepExec, err := store.StartStepExecution(ctx, "z1-t", first, start)
	if err != nil {
		t.Fatalf("failed to start step execution: %v", err)
	}

	latest, _ = store.LatestZapExecution(ctx, "z1")
	if latest == nil || latest.ID != first || latest.Status != engine.ExecutionStatusInProgress || latest.EndedAt != nil {
		t.Fatalf("unexpected in-progress execution: %+v", latest)
	}

	end := start.Add(1500 * time.Millisecond)
	data := map[string]any{"fired_at": "2026-04-01T08:00:00Z", "n": float64(3)}
	if err := store.FinishStepExecution(ctx, stepExec, data, engine.ExecutionStatusDone, end, 1500*time.Millisecond, nil); err != nil {
		t.Fatalf("failed to finish step execution: %v", err)
	}
	if err := store.FinishStepExecution(ctx, stepExec, nil, engine.ExecutionStatusDone, end, 0, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("closing a step execution twice: expected ErrNotFound, got %v", err)
	}
	if err := store.FinishZapExecution(ctx, first, "z1", engine.ExecutionStatusDone, end, 1500*time.Millisecond, nil); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}

	zap, _ := store.GetZap(ctx, "z1")
	if zap.LastRunAt == nil || !zap.LastRunAt.Equal(end) {
		t.Errorf("expected last_run_at %v, got %v", end, zap.LastRunAt)
	}

	exec, err := store.GetExecution(ctx, first)
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if exec.Status != engine.ExecutionStatusDone || exec.Duration != 1500*time.Millisecond ||
		exec.EndedAt == nil || !exec.EndedAt.Equal(end) || !exec.StartedAt.Equal(start) {
		t.Errorf("unexpected execution: %+v", exec)
	}

	steps, err := store.ListStepExecutions(ctx, first)
	if err != nil || len(steps) != 1 {
		t.Fatalf("expected 1 step execution, got %d (%v)", len(steps), err)
	}
	if steps[0].Data["n"] != float64(3) || steps[0].Status != engine.ExecutionStatusDone {
		t.Errorf("unexpected step execution: %+v", steps[0])
	}

	// A failed run later on becomes the latest and does not move last_run_at.
	second, _ := store.StartZapExecution(ctx, "z1", start.Add(time.Hour))
	msg := "handler failed"
	if err := store.FinishZapExecution(ctx, second, "z1", engine.ExecutionStatusFailed, start.Add(time.Hour+time.Second), time.Second, &msg); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}
	latest, _ = store.LatestZapExecution(ctx, "z1")
	if latest.ID != second || latest.Error == nil || *latest.Error != msg {
		t.Errorf("unexpected latest execution: %+v", latest)
	}
	zap, _ = store.GetZap(ctx, "z1")
	if !zap.LastRunAt.Equal(end) {
		t.Errorf("failed run moved last_run_at to %v", zap.LastRunAt)
	}

	execs, err := store.ListExecutions(ctx, ExecutionFilter{ZapID: "z1"})
	if err != nil || len(execs) != 2 || execs[0].ID != second {
		t.Errorf("expected newest first, got %+v (%v)", execs, err)
	}
	failed, _ := store.ListExecutions(ctx, ExecutionFilter{Status: engine.ExecutionStatusFailed})
	if len(failed) != 1 {
		t.Errorf("expected 1 failed execution, got %d", len(failed))
	}

	if _, err := store.GetExecution(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testDeleteCascades(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)
	now := time.Now().UTC()

	execID, _ := store.StartZapExecution(ctx, "z1", now)
	stepExec, _ := store.StartStepExecution(ctx, "z1-t", execID, now)
	if err := store.FinishStepExecution(ctx, stepExec, map[string]any{}, engine.ExecutionStatusDone, now, 0, nil); err != nil {
		t.Fatalf("failed to finish step execution: %v", err)
	}

	if err := store.DeleteZapExecution(ctx, execID); err != nil {
		t.Fatalf("failed to delete execution: %v", err)
	}
	steps, err := store.ListStepExecutions(ctx, execID)
	if err != nil || len(steps) != 0 {
		t.Errorf("expected step executions deleted with the execution, got %d (%v)", len(steps), err)
	}
	if latest, _ := store.LatestZapExecution(ctx, "z1"); latest != nil {
		t.Errorf("expected no history after delete, got %+v", latest)
	}
	if err := store.DeleteZapExecution(ctx, execID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testFailStale(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)
	now := time.Now().UTC()

	stale, _ := store.StartZapExecution(ctx, "z1", now)
	if _, err := store.StartStepExecution(ctx, "z1-a1", stale, now); err != nil {
		t.Fatalf("failed to start step execution: %v", err)
	}
	finished, _ := store.StartZapExecution(ctx, "z1", now.Add(-time.Hour))
	if err := store.FinishZapExecution(ctx, finished, "z1", engine.ExecutionStatusDone, now.Add(-time.Hour), 0, nil); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}

	n, err := store.FailStaleExecutions(ctx, "process restarted")
	if err != nil {
		t.Fatalf("failed to fail stale executions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale execution, got %d", n)
	}

	exec, _ := store.GetExecution(ctx, stale)
	if exec.Status != engine.ExecutionStatusFailed || exec.EndedAt == nil || exec.Error == nil {
		t.Errorf("stale execution not closed: %+v", exec)
	}
	steps, _ := store.ListStepExecutions(ctx, stale)
	if len(steps) != 1 || steps[0].Status != engine.ExecutionStatusFailed {
		t.Errorf("stale step execution not closed: %+v", steps)
	}
	if done, _ := store.GetExecution(ctx, finished); done.Status != engine.ExecutionStatusDone {
		t.Errorf("finished execution was modified: %+v", done)
	}
}

// testChainEndToEnd runs the real chain executor against the store.
func testChainEndToEnd(t *testing.T, store Store) {
	ctx := context.Background()
	seedZap(t, store, "z1", true)

	fired := true
	var received map[string]any
	reg := registry.New()
	reg.MustRegisterTrigger("test.trigger", func() registry.Trigger {
		return registry.TriggerFunc(func(context.Context, registry.Credential, map[string]any) (registry.TriggerResult, error) {
			return registry.TriggerResult{IsTriggered: fired, Data: map[string]any{"fired_at": "08:00"}}, nil
		})
	})
	reg.MustRegisterAction("test.echo", func() registry.Action {
		return registry.ActionFunc(func(_ context.Context, _ registry.Credential, payload map[string]any) (registry.ActionResult, error) {
			received = payload
			return registry.ActionResult{HasRun: true, Data: payload}, nil
		})
	})

	chain := engine.NewChainExecutor(store, reg, nil)
	zap, _ := store.GetZap(ctx, "z1")

	outcome, err := chain.Execute(ctx, zap, engine.ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if outcome != engine.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", outcome)
	}
	if received["text"] != "fired at 08:00" {
		t.Errorf("unexpected payload: %v", received)
	}

	execs, _ := store.ListExecutions(ctx, ExecutionFilter{ZapID: "z1"})
	if len(execs) != 1 || execs[0].Status != engine.ExecutionStatusDone {
		t.Fatalf("unexpected executions: %+v", execs)
	}
	steps, _ := store.ListStepExecutions(ctx, execs[0].ID)
	if len(steps) != 2 || steps[1].Data["text"] != "fired at 08:00" {
		t.Errorf("unexpected step executions: %+v", steps)
	}

	// Not due again until a minute after the run ended.
	outcome, _ = chain.Execute(ctx, zap, engine.ExecuteOptions{})
	if outcome != engine.OutcomeNotDue {
		t.Errorf("expected not_due, got %s", outcome)
	}

	// A forced run whose trigger does not fire leaves no trace.
	fired = false
	outcome, _ = chain.Execute(ctx, zap, engine.ExecuteOptions{Force: true})
	if outcome != engine.OutcomeNotTriggered {
		t.Errorf("expected not_triggered, got %s", outcome)
	}
	execs, _ = store.ListExecutions(ctx, ExecutionFilter{ZapID: "z1"})
	if len(execs) != 1 {
		t.Errorf("expected the discarded execution to be deleted, got %d executions", len(execs))
	}

	if n, _ := store.FailStaleExecutions(ctx, "check"); n != 0 {
		t.Errorf("expected no in_progress records, got %d", n)
	}
}
