// Package core holds service independent actions.
package core

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openzap/openzap/pkg/registry"
)

// ClassLog is the registered class name of the log action.
const ClassLog = "core.log"

// Log writes its payload to the process log and echoes it as output. It is
// useful for dry runs of a chain.
type Log struct{}

var _ registry.Action = Log{}

// Run logs the payload.
func (Log) Run(ctx context.Context, cred registry.Credential, fields map[string]any) (registry.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return registry.ActionResult{}, err
	}

	log.Info().
		Str("connection_id", cred.ConnectionID).
		Interface("payload", fields).
		Msg("core.log action")

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return registry.ActionResult{HasRun: true, Data: out}, nil
}

// Register adds the core actions to r.
func Register(r *registry.Registry) error {
	return r.RegisterAction(ClassLog, func() registry.Action { return Log{} })
}
