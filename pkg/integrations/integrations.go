// Package integrations wires the built-in triggers and actions into a
// registry. Each subpackage exposes a Register function; RegisterAll calls
// them in a fixed order.
package integrations

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openzap/openzap/pkg/integrations/core"
	"github.com/openzap/openzap/pkg/integrations/httpjson"
	"github.com/openzap/openzap/pkg/integrations/schedule"
	"github.com/openzap/openzap/pkg/integrations/script"
	"github.com/openzap/openzap/pkg/integrations/sftpfile"
	"github.com/openzap/openzap/pkg/registry"
)

// Options tunes the built-in handlers.
type Options struct {
	// HTTPClient is shared by the HTTP trigger and action. Nil selects a
	// client with HTTPTimeout.
	HTTPClient *http.Client

	// HTTPTimeout applies when HTTPClient is nil.
	HTTPTimeout time.Duration

	// ScriptTimeout caps Starlark execution.
	ScriptTimeout time.Duration

	// SFTPConnectTimeout bounds the SSH handshake of uploads.
	SFTPConnectTimeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		HTTPTimeout:        20 * time.Second,
		ScriptTimeout:      script.DefaultTimeout,
		SFTPConnectTimeout: sftpfile.DefaultConnectionTimeout,
	}
}

// RegisterAll registers every built-in handler with r.
func RegisterAll(r *registry.Registry, opts Options) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.HTTPTimeout}
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"schedule", func() error { return schedule.Register(r) }},
		{"httpjson", func() error { return httpjson.Register(r, client) }},
		{"script", func() error { return script.Register(r, opts.ScriptTimeout) }},
		{"sftpfile", func() error { return sftpfile.Register(r, opts.SFTPConnectTimeout) }},
		{"core", func() error { return core.Register(r) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("failed to register %s integrations: %w", s.name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in handler.
func NewRegistry(opts Options) (*registry.Registry, error) {
	r := registry.New()
	if err := RegisterAll(r, opts); err != nil {
		return nil, err
	}
	return r, nil
}
