// Package engine implements the zap execution engine.
//
// A zap is one trigger step followed by an ordered chain of action steps.
// The engine is built from four cooperating parts:
//
//   - Scheduler sweeps the active zaps on a jittered tick and dispatches each
//     to a bounded worker pool, holding a per-zap run lock so a slow zap is
//     never started twice.
//   - ReadinessEvaluator decides whether a polling or schedule trigger is
//     due, based on when the zap's latest execution ended.
//   - ChainExecutor checks the trigger and, when it fires, runs the action
//     steps in step_order, substituting {{variable}} tokens from the
//     upstream step's output into each payload.
//   - Recorder opens and closes Execution and StepExecution records around
//     every unit of work.
//
// # Outcomes and errors
//
// Skips are outcomes, not errors: a zap without a trigger step, a webhook
// trigger, a trigger that is not due and a trigger that did not fire all
// return a nil error. A trigger that did not fire discards its Execution.
//
// Failures are *EngineError values classified as configuration, credential,
// dependency, handler, cancelled or storage. Structural dependency problems
// (an action without a source step, or whose source produced no output)
// stop the remaining chain but still finish the Execution as done.
// Misconfigured or credential-less action steps are recorded as failed
// with empty output and the chain continues. Handler errors fail the
// Execution and surface at the scheduler's per-zap boundary, which logs
// them and moves on.
//
// # Shutdown
//
// Bookkeeping writes run on a context detached from cancellation. When the
// scheduler is stopped, in-flight runs get a grace period; after it their
// handler calls are cancelled and their records are closed as failed.
// Nothing is left in_progress.
//
// # Usage
//
//	reg := registry.New()
//	if err := integrations.RegisterAll(reg); err != nil {
//	    return err
//	}
//	chain := engine.NewChainExecutor(store, reg, tel, engine.WithCallTimeout(30*time.Second))
//	sched := engine.NewScheduler(engine.DefaultSchedulerConfig(), store, chain, tel)
//	return sched.Run(ctx)
package engine
