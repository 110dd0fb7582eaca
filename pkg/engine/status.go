package engine

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of an Execution or StepExecution.
type ExecutionStatus string

const (
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusDone       ExecutionStatus = "done"
	ExecutionStatusFailed     ExecutionStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusDone || s == ExecutionStatusFailed
}

// Validate checks if the status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case ExecutionStatusInProgress, ExecutionStatusDone, ExecutionStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// TriggerType says how a trigger is fired.
type TriggerType string

const (
	// TriggerTypeWebhook triggers fire from external ingress and are never polled.
	TriggerTypeWebhook TriggerType = "webhook"

	// TriggerTypePolling triggers are checked once their interval has elapsed
	// since the previous finished execution.
	TriggerTypePolling TriggerType = "polling"

	// TriggerTypeSchedule triggers behave like polling triggers but also fire
	// on first activation.
	TriggerTypeSchedule TriggerType = "schedule"
)

// Validate checks if the trigger type is valid.
func (t TriggerType) Validate() error {
	switch t {
	case TriggerTypeWebhook, TriggerTypePolling, TriggerTypeSchedule:
		return nil
	default:
		return fmt.Errorf("invalid trigger type: %q", t)
	}
}

// IsTimeBased reports whether the scheduler polls this trigger type.
func (t TriggerType) IsTimeBased() bool {
	return t == TriggerTypePolling || t == TriggerTypeSchedule
}

// Validate checks a trigger definition for structural problems.
func (d *TriggerDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("trigger definition id is required")
	}
	if d.ClassName == "" {
		return fmt.Errorf("trigger definition %s: class_name is required", d.ID)
	}
	if err := d.TriggerType.Validate(); err != nil {
		return fmt.Errorf("trigger definition %s: %w", d.ID, err)
	}
	if d.TriggerType.IsTimeBased() && d.PollingInterval <= 0 {
		return fmt.Errorf("trigger definition %s: %s trigger needs a positive polling interval", d.ID, d.TriggerType)
	}
	return nil
}

// Validate checks an action definition for structural problems.
func (d *ActionDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("action definition id is required")
	}
	if d.ClassName == "" {
		return fmt.Errorf("action definition %s: class_name is required", d.ID)
	}
	return nil
}

// Validate checks a step for structural problems.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step id is required")
	}
	switch s.StepType {
	case StepTypeTrigger:
		if s.StepOrder != 0 {
			return fmt.Errorf("step %s: trigger step must have step_order 0", s.ID)
		}
		if s.TriggerID == "" {
			return fmt.Errorf("step %s: trigger_id is required", s.ID)
		}
	case StepTypeAction:
		if s.StepOrder < 1 {
			return fmt.Errorf("step %s: action step must have step_order >= 1", s.ID)
		}
		if s.ActionID == "" {
			return fmt.Errorf("step %s: action_id is required", s.ID)
		}
	default:
		return fmt.Errorf("step %s: invalid step type %q", s.ID, s.StepType)
	}
	return nil
}

// elapsed rounds durations to milliseconds, the precision records keep.
func elapsed(start, end time.Time) time.Duration {
	return end.Sub(start).Round(time.Millisecond)
}
