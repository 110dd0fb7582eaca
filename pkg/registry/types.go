package registry

import "context"

// Credential is a read-only snapshot of the access token resolved for a step.
// An empty token means the step runs credential-less.
type Credential struct {
	ConnectionID string
	AccessToken  string
}

// IsZero reports whether no credential was resolved.
func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

// TriggerResult is the outcome of a trigger check.
type TriggerResult struct {
	IsTriggered bool           `json:"is_triggered"`
	Data        map[string]any `json:"data,omitempty"`
}

// ActionResult is the outcome of an action run.
type ActionResult struct {
	HasRun bool           `json:"has_run"`
	Data   map[string]any `json:"data,omitempty"`
}

// Trigger decides whether something new happened in an external service.
type Trigger interface {
	Check(ctx context.Context, cred Credential, payload map[string]any) (TriggerResult, error)
}

// Action performs work in an external service.
type Action interface {
	Run(ctx context.Context, cred Credential, payload map[string]any) (ActionResult, error)
}

// TriggerFactory constructs a fresh trigger handler for one invocation.
type TriggerFactory func() Trigger

// ActionFactory constructs a fresh action handler for one invocation.
type ActionFactory func() Action

// TriggerFunc adapts a plain function to the Trigger interface.
type TriggerFunc func(ctx context.Context, cred Credential, payload map[string]any) (TriggerResult, error)

// Check calls f.
func (f TriggerFunc) Check(ctx context.Context, cred Credential, payload map[string]any) (TriggerResult, error) {
	return f(ctx, cred, payload)
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, cred Credential, payload map[string]any) (ActionResult, error)

// Run calls f.
func (f ActionFunc) Run(ctx context.Context, cred Credential, payload map[string]any) (ActionResult, error) {
	return f(ctx, cred, payload)
}
