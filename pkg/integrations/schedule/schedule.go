// Package schedule provides the time based trigger. Readiness is decided by
// the engine from the trigger definition's interval, so the handler always
// fires and only describes the moment it fired.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/openzap/openzap/pkg/integrations/payload"
	"github.com/openzap/openzap/pkg/registry"
)

// ClassEvery is the registered class name of the schedule trigger.
const ClassEvery = "schedule.every"

// Every fires on every check. The optional "timezone" payload field selects
// the location used for the date, time and weekday fields.
type Every struct {
	now func() time.Time
}

var _ registry.Trigger = (*Every)(nil)

// NewEvery creates a schedule trigger reading the wall clock.
func NewEvery() *Every {
	return &Every{now: time.Now}
}

// Check always reports the trigger as fired.
func (e *Every) Check(ctx context.Context, _ registry.Credential, p map[string]any) (registry.TriggerResult, error) {
	if err := ctx.Err(); err != nil {
		return registry.TriggerResult{}, err
	}

	tz, err := payload.StringOr(p, "timezone", "UTC")
	if err != nil {
		return registry.TriggerResult{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return registry.TriggerResult{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	now := e.now().In(loc)
	return registry.TriggerResult{
		IsTriggered: true,
		Data: map[string]any{
			"fired_at": now.Format(time.RFC3339),
			"date":     now.Format("2006-01-02"),
			"time":     now.Format("15:04:05"),
			"weekday":  now.Weekday().String(),
			"unix":     now.Unix(),
		},
	}, nil
}

// Register adds the schedule trigger to r.
func Register(r *registry.Registry) error {
	return r.RegisterTrigger(ClassEvery, func() registry.Trigger { return NewEvery() })
}
