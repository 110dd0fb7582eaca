package policy

import (
	"time"

	"github.com/openzap/openzap/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the step.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the step.
	SeverityError Severity = "error"

	// SeverityCritical blocks the step.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the invocation.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a deny
	// set; its package is conventionally under openzap.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine. They survive reloads.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	StepID   string   `json:"step_id,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating every enabled policy against one
// invocation.
type Decision struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Reasons returns the messages of the blocking violations.
func (d *Decision) Reasons() []string {
	reasons := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		reasons[i] = v.Policy + ": " + v.Message
	}
	return reasons
}

// Input is the document policies see as input.
type Input struct {
	// Step describes the handler call about to be made.
	Step engine.StepInvocation `json:"step"`

	// Context carries evaluation time facts.
	Context InputContext `json:"context"`
}

// InputContext provides context information for policy evaluation.
type InputContext struct {
	// Environment is the deployment environment (e.g., "production").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Weekday and Hour are derived from Timestamp for schedule rules.
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
}
