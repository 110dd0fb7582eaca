package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openzap/openzap/pkg/registry"
	"github.com/openzap/openzap/pkg/telemetry"
)

// DefaultCallTimeout bounds every trigger check and action run.
const DefaultCallTimeout = 30 * time.Second

// ChainExecutor runs one zap's trigger and, when it fires, its action chain.
type ChainExecutor struct {
	store       Store
	registry    *registry.Registry
	readiness   *ReadinessEvaluator
	recorder    *Recorder
	guard       Guard
	callTimeout time.Duration

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// ChainOption configures a ChainExecutor.
type ChainOption func(*ChainExecutor)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) ChainOption {
	return func(c *ChainExecutor) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithGuard installs a policy guard consulted before every handler call.
func WithGuard(g Guard) ChainOption {
	return func(c *ChainExecutor) {
		c.guard = g
	}
}

// WithClock replaces the clock used by the readiness policy and the recorder.
func WithClock(now func() time.Time) ChainOption {
	return func(c *ChainExecutor) {
		c.readiness.WithClock(now)
		c.recorder.now = now
	}
}

// NewChainExecutor creates an executor over store and reg.
func NewChainExecutor(store Store, reg *registry.Registry, tel *telemetry.Telemetry, opts ...ChainOption) *ChainExecutor {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	c := &ChainExecutor{
		store:       store,
		registry:    reg,
		readiness:   NewReadinessEvaluator(store),
		recorder:    NewRecorder(store, tel),
		callTimeout: DefaultCallTimeout,
		logger:      tel.Logger.NewComponentLogger("chain"),
		metrics:     tel.Metrics,
		tracer:      tel.Tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the zap once. "Not runnable", "webhook", "not due" and "not
// triggered" are normal outcomes with a nil error. Configuration, credential
// and handler failures are returned as *EngineError; any Execution opened on
// the way is closed as failed before Execute returns.
func (c *ChainExecutor) Execute(ctx context.Context, zap *Zap, opts ExecuteOptions) (outcome Outcome, err error) {
	ctx, span := c.tracer.StartExecutionSpan(ctx, zap.ID, zap.Name)
	defer func() {
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		if err != nil {
			span.SetAttributes(telemetry.AttrErrorClass.String(string(ClassOf(err))))
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	logger := c.logger.WithZap(zap.ID, zap.Name)

	steps, err := c.store.ListSteps(ctx, zap.ID)
	if err != nil {
		return OutcomeFailed, NewStorageError("failed to list steps", err).
			WithZap(zap.ID).WithCode(ErrCodeStoreFailed)
	}

	trigger, actions, err := splitChain(steps)
	if err != nil {
		return OutcomeFailed, withZap(err, zap.ID)
	}
	if trigger == nil {
		logger.Info("zap has no trigger step, skipping")
		return OutcomeNotRunnable, nil
	}

	def, err := c.store.GetTrigger(ctx, trigger.TriggerID)
	if err != nil {
		return OutcomeFailed, NewStorageError("failed to load trigger definition", err).
			WithZap(zap.ID).WithStep(trigger.ID).WithCode(ErrCodeStoreFailed)
	}
	if def == nil {
		return OutcomeFailed, NewConfigurationError(fmt.Sprintf("trigger definition %q not found", trigger.TriggerID), nil).
			WithZap(zap.ID).WithStep(trigger.ID).WithCode(ErrCodeTriggerNotFound)
	}

	if def.TriggerType == TriggerTypeWebhook {
		logger.Debug("webhook trigger fires through ingress, skipping")
		return OutcomeSkippedWebhook, nil
	}

	if !c.registry.HasTrigger(def.ClassName) {
		return OutcomeFailed, NewConfigurationError(fmt.Sprintf("trigger class %q is not registered", def.ClassName), nil).
			WithZap(zap.ID).WithStep(trigger.ID).WithCode(ErrCodeClassNotRegistered)
	}

	// Check readiness unless forced
	if !opts.Force {
		ready, err := c.readiness.Ready(ctx, zap.ID, def)
		if err != nil {
			return OutcomeFailed, NewStorageError("failed to evaluate readiness", err).
				WithZap(zap.ID).WithCode(ErrCodeStoreFailed)
		}
		if !ready {
			logger.Debug("trigger not due")
			return OutcomeNotDue, nil
		}
	}

	cred, err := c.resolveCredential(ctx, trigger)
	if err != nil {
		if !IsCredentialError(err) || def.TriggerType != TriggerTypeSchedule {
			return OutcomeFailed, withZap(err, zap.ID)
		}
		logger.WithError(err).Warn("schedule trigger connection unavailable, running without credential")
		cred = registry.Credential{}
	}

	if err := c.authorize(ctx, zap, trigger, def.ServiceID, def.ClassName); err != nil {
		return OutcomeFailed, err
	}

	// Open the execution record
	exec, err := c.recorder.OpenExecution(ctx, zap.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	span.SetAttributes(telemetry.AttrExecutionID.String(exec.ID))

	run := &chainRun{
		ChainExecutor: c,
		zap:           zap,
		exec:          exec,
		pool:          NewVariablePool(),
		logger:        logger.WithExecution(exec.ID),
		span:          span,
	}

	defer func() {
		if r := recover(); r != nil {
			run.logger.Errorf("chain panicked: %v\n%s", r, debug.Stack())
			err = NewHandlerError(fmt.Sprintf("chain panicked: %v", r), nil).
				WithZap(zap.ID).WithCode(ErrCodeHandlerPanic)
			outcome = OutcomeFailed
			if ferr := c.recorder.FailExecution(ctx, exec, err); ferr != nil && !errors.Is(ferr, ErrAlreadyClosed) {
				run.logger.WithError(ferr).Error("failed to close execution after panic")
			}
		}
	}()

	return run.execute(ctx, trigger, def, cred, actions)
}

// chainRun holds the state of one execution.
type chainRun struct {
	*ChainExecutor
	zap    *Zap
	exec   *ExecutionRecord
	pool   *VariablePool
	logger *telemetry.Logger
	span   trace.Span
}

func (r *chainRun) execute(ctx context.Context, trigger *Step, def *TriggerDefinition, cred registry.Credential, actions []*Step) (Outcome, error) {
	triggered, err := r.checkTrigger(ctx, trigger, def, cred)
	if err != nil {
		return OutcomeFailed, r.fail(ctx, err)
	}
	r.span.SetAttributes(telemetry.AttrIsTriggered.Bool(triggered))

	if !triggered {
		if err := r.recorder.DiscardExecution(ctx, r.exec); err != nil {
			return OutcomeFailed, err
		}
		r.logger.Debug("trigger did not fire")
		return OutcomeNotTriggered, nil
	}

	outcome, err := r.runActions(ctx, actions)
	if err != nil {
		return OutcomeFailed, r.fail(ctx, err)
	}

	if err := r.recorder.CompleteExecution(ctx, r.exec); err != nil {
		return OutcomeFailed, err
	}
	r.logger.Infof("execution finished: %s", outcome)
	return outcome, nil
}

// fail closes the execution as failed and returns cause.
func (r *chainRun) fail(ctx context.Context, cause error) error {
	cause = withZap(cause, r.zap.ID)
	if err := r.recorder.FailExecution(ctx, r.exec, cause); err != nil {
		r.logger.WithError(err).Error("failed to close execution")
	}
	return cause
}

func (r *chainRun) checkTrigger(ctx context.Context, step *Step, def *TriggerDefinition, cred registry.Credential) (bool, error) {
	rec, err := r.recorder.OpenStep(ctx, r.exec, step, def.ClassName)
	if err != nil {
		return false, err
	}

	handler, ok := r.registry.NewTrigger(def.ClassName)
	if !ok {
		cause := NewConfigurationError(fmt.Sprintf("trigger class %q is not registered", def.ClassName), nil).
			WithStep(step.ID).WithCode(ErrCodeClassNotRegistered)
		return false, r.closeStep(ctx, rec, nil, cause)
	}

	var result registry.TriggerResult
	callErr := r.invoke(ctx, step, string(StepTypeTrigger), def.ClassName, func(callCtx context.Context) error {
		var err error
		result, err = handler.Check(callCtx, cred, copyPayload(step.Payload))
		return err
	})
	if callErr != nil {
		return false, r.closeStep(ctx, rec, nil, callErr)
	}

	r.pool.Put(step.ID, result.Data, def.Variables)
	if err := r.closeStep(ctx, rec, result.Data, nil); err != nil {
		return false, err
	}
	return result.IsTriggered, nil
}

func (r *chainRun) runActions(ctx context.Context, actions []*Step) (Outcome, error) {
	outcome := OutcomeCompleted

	for _, step := range actions {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, NewCancelledError("run interrupted before step", context.Cause(ctx)).
				WithStep(step.ID).WithCode(ErrCodeShutdown)
		}

		logger := r.logger.WithStep(step.ID, step.StepOrder)

		if step.SourceStepID == nil || *step.SourceStepID == "" {
			logger.Error("action step declares no source step, aborting remaining chain")
			r.metrics.RecordError(string(ErrorClassDependency), ErrCodeMissingSource)
			return OutcomePartial, nil
		}

		vars, ok := r.pool.Variables(*step.SourceStepID)
		if !ok {
			logger.WithField("source_step_id", *step.SourceStepID).
				Error("source step output unavailable, aborting remaining chain")
			r.metrics.RecordError(string(ErrorClassDependency), ErrCodeSourceOutputMissing)
			return OutcomePartial, nil
		}

		degraded, err := r.runAction(ctx, step, vars, logger)
		if err != nil {
			return OutcomeFailed, err
		}
		if degraded {
			outcome = OutcomePartial
		}
	}

	return outcome, nil
}

// runAction executes one action step. It reports degraded=true when the step
// was skipped with empty output because of a configuration or credential
// problem.
func (r *chainRun) runAction(ctx context.Context, step *Step, vars map[string]string, logger *telemetry.Logger) (degraded bool, err error) {
	rec, err := r.recorder.OpenStep(ctx, r.exec, step, "")
	if err != nil {
		return false, err
	}

	def, err := r.store.GetAction(ctx, step.ActionID)
	if err != nil {
		cause := NewStorageError("failed to load action definition", err).
			WithStep(step.ID).WithCode(ErrCodeStoreFailed)
		return false, r.closeStep(ctx, rec, nil, cause)
	}
	if def == nil {
		return r.degrade(ctx, rec, step, logger, NewConfigurationError(
			fmt.Sprintf("action definition %q not found", step.ActionID), nil).
			WithStep(step.ID).WithCode(ErrCodeActionNotFound))
	}
	rec.ClassName = def.ClassName
	logger = logger.WithClass(def.ClassName)

	handler, ok := r.registry.NewAction(def.ClassName)
	if !ok {
		return r.degrade(ctx, rec, step, logger, NewConfigurationError(
			fmt.Sprintf("action class %q is not registered", def.ClassName), nil).
			WithStep(step.ID).WithCode(ErrCodeClassNotRegistered))
	}

	cred, err := r.resolveCredential(ctx, step)
	if err != nil {
		if IsCredentialError(err) {
			return r.degrade(ctx, rec, step, logger, err)
		}
		return false, r.closeStep(ctx, rec, nil, err)
	}

	if err := r.authorize(ctx, r.zap, step, def.ServiceID, def.ClassName); err != nil {
		if IsConfigurationError(err) {
			return r.degrade(ctx, rec, step, logger, err)
		}
		return false, r.closeStep(ctx, rec, nil, err)
	}

	payload, unresolved := Substitute(step.Payload, vars)
	if len(unresolved) > 0 {
		logger.WithField("tokens", unresolved).Warn("payload references variables the source step did not produce")
	}

	var result registry.ActionResult
	callErr := r.invoke(ctx, step, string(StepTypeAction), def.ClassName, func(callCtx context.Context) error {
		var err error
		result, err = handler.Run(callCtx, cred, payload)
		return err
	})
	if callErr != nil {
		return false, r.closeStep(ctx, rec, nil, callErr)
	}

	if !result.HasRun {
		logger.Debug("action reported nothing to do")
	}

	r.pool.Put(step.ID, result.Data, def.Variables)
	return false, r.closeStep(ctx, rec, result.Data, nil)
}

// degrade records empty output for a step that cannot run and lets the
// chain continue.
func (r *chainRun) degrade(ctx context.Context, rec *StepRecord, step *Step, logger *telemetry.Logger, cause error) (bool, error) {
	logger.WithError(cause).Warn("skipping action step with empty output")
	r.metrics.RecordError(string(ClassOf(cause)), CodeOf(cause))
	empty := map[string]any{}
	r.pool.Put(step.ID, empty, nil)
	if err := r.recorder.CloseStep(ctx, r.exec, rec, empty, cause); err != nil {
		return false, err
	}
	return true, nil
}

// closeStep closes rec and returns cause, or the close error if closing
// failed.
func (r *chainRun) closeStep(ctx context.Context, rec *StepRecord, data map[string]any, cause error) error {
	if err := r.recorder.CloseStep(ctx, r.exec, rec, data, cause); err != nil {
		if cause != nil {
			return errors.Join(cause, err)
		}
		return err
	}
	return cause
}

// invoke calls a handler under the per-call timeout, converting panics,
// timeouts and returned errors into handler errors.
func (c *ChainExecutor) invoke(ctx context.Context, step *Step, kind, className string, call func(context.Context) error) error {
	ctx, span := c.tracer.StartStepSpan(ctx, step.ID, kind, className)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- NewHandlerError(fmt.Sprintf("%s %s panicked: %v", kind, className, rec), nil).
					WithStep(step.ID).WithCode(ErrCodeHandlerPanic)
			}
		}()
		done <- call(callCtx)
	}()

	var err error
	select {
	case err = <-done:
		if err != nil {
			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				err = c.classifyCallError(ctx, callCtx, step, kind, className, err)
			}
		}
	case <-callCtx.Done():
		err = c.classifyCallError(ctx, callCtx, step, kind, className, callCtx.Err())
	}

	c.metrics.RecordHandlerCall(kind, className, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

func (c *ChainExecutor) classifyCallError(parent, callCtx context.Context, step *Step, kind, className string, err error) error {
	switch {
	case parent.Err() != nil:
		return NewCancelledError(fmt.Sprintf("%s %s interrupted", kind, className), err).
			WithStep(step.ID).WithCode(ErrCodeShutdown)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return NewHandlerError(fmt.Sprintf("%s %s did not return within %s", kind, className, c.callTimeout), err).
			WithStep(step.ID).WithCode(ErrCodeTimeout)
	default:
		return NewHandlerError(fmt.Sprintf("%s %s failed", kind, className), err).
			WithStep(step.ID).WithCode(ErrCodeHandlerFailed)
	}
}

// resolveCredential returns an empty credential for steps that declare no
// connection and a credential error when a declared connection has no token.
func (c *ChainExecutor) resolveCredential(ctx context.Context, step *Step) (registry.Credential, error) {
	if step.ConnectionID == nil || *step.ConnectionID == "" {
		return registry.Credential{}, nil
	}

	connectionID := *step.ConnectionID
	token, ok, err := c.store.GetAccessToken(ctx, connectionID)
	if err != nil {
		return registry.Credential{}, NewStorageError("failed to resolve connection", err).
			WithStep(step.ID).WithCode(ErrCodeStoreFailed)
	}
	if !ok {
		return registry.Credential{}, NewCredentialError(fmt.Sprintf("connection %q has no access token", connectionID), nil).
			WithStep(step.ID).WithCode(ErrCodeConnectionNotFound)
	}

	return registry.Credential{ConnectionID: connectionID, AccessToken: token}, nil
}

// authorize consults the guard. Denials are configuration errors.
func (c *ChainExecutor) authorize(ctx context.Context, zap *Zap, step *Step, serviceID, className string) error {
	if c.guard == nil {
		return nil
	}

	allowed, reasons, err := c.guard.Allow(ctx, StepInvocation{
		ZapID:     zap.ID,
		ZapName:   zap.Name,
		StepID:    step.ID,
		StepType:  step.StepType,
		StepOrder: step.StepOrder,
		ServiceID: serviceID,
		ClassName: className,
	})
	if err != nil {
		return NewConfigurationError("policy evaluation failed", err).
			WithZap(zap.ID).WithStep(step.ID).WithCode(ErrCodePolicyDenied)
	}
	if !allowed {
		return NewConfigurationError(fmt.Sprintf("denied by policy: %s", strings.Join(reasons, "; ")), nil).
			WithZap(zap.ID).WithStep(step.ID).WithCode(ErrCodePolicyDenied).
			WithDetail("reasons", reasons)
	}
	return nil
}

// splitChain separates the trigger step from the action steps and orders
// the actions by step_order. A second trigger step is rejected.
func splitChain(steps []*Step) (*Step, []*Step, error) {
	var trigger *Step
	actions := make([]*Step, 0, len(steps))

	for _, s := range steps {
		switch s.StepType {
		case StepTypeTrigger:
			if trigger != nil {
				return nil, nil, NewConfigurationError(
					fmt.Sprintf("zap has more than one trigger step (%s, %s)", trigger.ID, s.ID), nil).
					WithStep(s.ID).WithCode(ErrCodeDuplicateTrigger)
			}
			trigger = s
		case StepTypeAction:
			actions = append(actions, s)
		default:
			return nil, nil, NewConfigurationError(fmt.Sprintf("step has unknown type %q", s.StepType), nil).
				WithStep(s.ID)
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].StepOrder < actions[j].StepOrder
	})
	return trigger, actions, nil
}

func copyPayload(payload map[string]any) map[string]any {
	out, _ := Substitute(payload, nil)
	return out
}

func withZap(err error, zapID string) error {
	var e *EngineError
	if errors.As(err, &e) && e.ZapID == "" {
		e.ZapID = zapID
	}
	return err
}
