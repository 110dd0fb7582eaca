package engine

import (
	"time"
)

// Zap is a user-defined automation: one trigger step plus an ordered chain
// of action steps.
type Zap struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	IsActive  bool       `json:"is_active" yaml:"is_active"`
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
}

// StepType discriminates trigger steps from action steps.
type StepType string

const (
	StepTypeTrigger StepType = "trigger"
	StepTypeAction  StepType = "action"
)

// Step is one position in a zap's chain. A trigger step has StepOrder 0 and
// references a trigger definition; action steps have StepOrder >= 1,
// reference an action definition and name the step whose output they read.
type Step struct {
	ID           string         `json:"id" yaml:"id"`
	ZapID        string         `json:"zap_id" yaml:"zap_id"`
	StepType     StepType       `json:"step_type" yaml:"step_type"`
	StepOrder    int            `json:"step_order" yaml:"step_order"`
	TriggerID    string         `json:"trigger_id,omitempty" yaml:"trigger_id,omitempty"`
	ActionID     string         `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	ConnectionID *string        `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	SourceStepID *string        `json:"source_step_id,omitempty" yaml:"source_step_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// IsTrigger reports whether the step is the zap's trigger.
func (s *Step) IsTrigger() bool {
	return s.StepType == StepTypeTrigger
}

// TriggerDefinition is a static catalog entry describing a trigger class.
type TriggerDefinition struct {
	ID              string        `json:"id" yaml:"id"`
	ServiceID       string        `json:"service_id" yaml:"service_id"`
	Name            string        `json:"name" yaml:"name"`
	ClassName       string        `json:"class_name" yaml:"class_name"`
	TriggerType     TriggerType   `json:"trigger_type" yaml:"trigger_type"`
	PollingInterval time.Duration `json:"polling_interval,omitempty" yaml:"polling_interval,omitempty"`

	// Variables optionally maps advertised variable names to dotted paths
	// into the trigger's output data.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ActionDefinition is a static catalog entry describing an action class.
type ActionDefinition struct {
	ID        string            `json:"id" yaml:"id"`
	ServiceID string            `json:"service_id" yaml:"service_id"`
	Name      string            `json:"name" yaml:"name"`
	ClassName string            `json:"class_name" yaml:"class_name"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Execution is one attempt to run a zap's chain.
type Execution struct {
	ID        string          `json:"id"`
	ZapID     string          `json:"zap_id"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Error     *string         `json:"error,omitempty"`
}

// StepExecution records one handler invocation within an Execution.
type StepExecution struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Status      ExecutionStatus `json:"status"`
	Data        map[string]any  `json:"data,omitempty"`
	Error       *string         `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// Outcome summarizes what a single chain execution did.
type Outcome string

const (
	// OutcomeNotRunnable means the zap has no trigger step.
	OutcomeNotRunnable Outcome = "not_runnable"

	// OutcomeSkippedWebhook means the trigger fires through webhook ingress.
	OutcomeSkippedWebhook Outcome = "skipped_webhook"

	// OutcomeNotDue means the readiness policy held the trigger back.
	OutcomeNotDue Outcome = "not_due"

	// OutcomeNotTriggered means the trigger was checked and found nothing new.
	OutcomeNotTriggered Outcome = "not_triggered"

	// OutcomeCompleted means every action step ran.
	OutcomeCompleted Outcome = "completed"

	// OutcomePartial means the chain stopped early on a dependency problem
	// or degraded past a misconfigured step.
	OutcomePartial Outcome = "partial"

	// OutcomeFailed means a configuration, credential or handler error
	// stopped the run.
	OutcomeFailed Outcome = "failed"
)

// ExecuteOptions tunes a single chain execution.
type ExecuteOptions struct {
	// Force bypasses the readiness policy. Webhook triggers are still skipped.
	Force bool
}
