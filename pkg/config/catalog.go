package config

import (
	"context"
	"fmt"
	"os"

	"github.com/openzap/openzap/pkg/engine"
	"github.com/openzap/openzap/pkg/stores"
)

// Catalog is a seed document: trigger and action definitions, connections
// and zaps with their steps.
type Catalog struct {
	Connections []stores.Connection        `yaml:"connections"`
	Triggers    []engine.TriggerDefinition `yaml:"triggers"`
	Actions     []engine.ActionDefinition  `yaml:"actions"`
	Zaps        []ZapSpec                  `yaml:"zaps"`
}

// ZapSpec is a zap together with its chain.
type ZapSpec struct {
	engine.Zap `yaml:",inline"`
	Steps      []engine.Step `yaml:"steps"`
}

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Connections int `json:"connections"`
	Triggers    int `json:"triggers"`
	Actions     int `json:"actions"`
	Zaps        int `json:"zaps"`
	Steps       int `json:"steps"`
}

// LoadCatalog reads a YAML, JSON or CUE catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	return NewLoader().LoadCatalog(path)
}

// LoadCatalog reads a YAML, JSON or CUE catalog file.
func (l *Loader) LoadCatalog(path string) (*Catalog, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return l.LoadCatalogBytes(data, format, path)
}

// LoadCatalogBytes parses and validates a catalog document.
func (l *Loader) LoadCatalogBytes(data []byte, format Format, source string) (*Catalog, error) {
	var cat Catalog
	if err := l.decode(data, format, source, SchemaCatalog, &cat); err != nil {
		return nil, err
	}
	cat.normalize()
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// normalize fills each step's zap id from its enclosing zap.
func (c *Catalog) normalize() {
	for i := range c.Zaps {
		for j := range c.Zaps[i].Steps {
			if c.Zaps[i].Steps[j].ZapID == "" {
				c.Zaps[i].Steps[j].ZapID = c.Zaps[i].ID
			}
		}
	}
}

// Validate checks definitions and chains for internal consistency. Steps may
// reference ids that are not part of this document; those resolve against
// what is already stored.
func (c *Catalog) Validate() error {
	var errs []ValidationError
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...), Severity: "error"})
	}

	for i := range c.Triggers {
		if err := c.Triggers[i].Validate(); err != nil {
			add(fmt.Sprintf("triggers[%d]", i), "%v", err)
		}
	}

	zapIDs := make(map[string]bool, len(c.Zaps))
	for i, z := range c.Zaps {
		path := fmt.Sprintf("zaps[%d]", i)
		if zapIDs[z.ID] {
			add(path, "duplicate zap id %q", z.ID)
		}
		zapIDs[z.ID] = true

		triggers := 0
		stepIDs := make(map[string]bool, len(z.Steps))
		for j := range z.Steps {
			step := &z.Steps[j]
			stepPath := fmt.Sprintf("%s.steps[%d]", path, j)
			if err := step.Validate(); err != nil {
				add(stepPath, "%v", err)
				continue
			}
			if step.ZapID != z.ID {
				add(stepPath, "step %s belongs to zap %q, not %q", step.ID, step.ZapID, z.ID)
			}
			if stepIDs[step.ID] {
				add(stepPath, "duplicate step id %q", step.ID)
			}
			stepIDs[step.ID] = true
			if step.IsTrigger() {
				triggers++
			}
		}
		if triggers > 1 {
			add(path, "zap %s has %d trigger steps", z.ID, triggers)
		}
	}

	if len(errs) > 0 {
		return &LoadError{Source: "catalog", Errors: errs}
	}
	return nil
}

// Seed upserts the catalog into store. Definitions and connections are
// written before zaps so steps never point at ids the same document defines
// later.
func (c *Catalog) Seed(ctx context.Context, store stores.Store) (SeedStats, error) {
	var stats SeedStats

	for i := range c.Connections {
		if err := store.PutConnection(ctx, &c.Connections[i]); err != nil {
			return stats, fmt.Errorf("connection %s: %w", c.Connections[i].ID, err)
		}
		stats.Connections++
	}
	for i := range c.Triggers {
		if err := store.PutTrigger(ctx, &c.Triggers[i]); err != nil {
			return stats, fmt.Errorf("trigger %s: %w", c.Triggers[i].ID, err)
		}
		stats.Triggers++
	}
	for i := range c.Actions {
		if err := store.PutAction(ctx, &c.Actions[i]); err != nil {
			return stats, fmt.Errorf("action %s: %w", c.Actions[i].ID, err)
		}
		stats.Actions++
	}
	for i := range c.Zaps {
		z := &c.Zaps[i]
		if err := store.CreateZap(ctx, &z.Zap); err != nil {
			return stats, fmt.Errorf("zap %s: %w", z.ID, err)
		}
		stats.Zaps++
		for j := range z.Steps {
			if err := store.CreateStep(ctx, &z.Steps[j]); err != nil {
				return stats, fmt.Errorf("zap %s step %s: %w", z.ID, z.Steps[j].ID, err)
			}
			stats.Steps++
		}
	}
	return stats, nil
}
