// Package registry binds catalog class names to trigger and action handlers.
//
// Integrations register their handlers explicitly at startup. The engine
// never branches on service identity; it resolves a class name here and
// invokes the uniform Check/Run contract.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Kind distinguishes trigger classes from action classes.
type Kind string

const (
	KindTrigger Kind = "trigger"
	KindAction  Kind = "action"
)

// Class describes one registered handler.
type Class struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Registry is a concurrency-safe class name to handler constructor table.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]TriggerFactory
	actions  map[string]ActionFactory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		triggers: make(map[string]TriggerFactory),
		actions:  make(map[string]ActionFactory),
	}
}

// RegisterTrigger binds a trigger class name to its constructor.
func (r *Registry) RegisterTrigger(class string, factory TriggerFactory) error {
	if class == "" {
		return fmt.Errorf("trigger class name is required")
	}
	if factory == nil {
		return fmt.Errorf("trigger %s: factory is nil", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.triggers[class]; exists {
		return fmt.Errorf("trigger %s already registered", class)
	}
	r.triggers[class] = factory
	return nil
}

// RegisterAction binds an action class name to its constructor.
func (r *Registry) RegisterAction(class string, factory ActionFactory) error {
	if class == "" {
		return fmt.Errorf("action class name is required")
	}
	if factory == nil {
		return fmt.Errorf("action %s: factory is nil", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[class]; exists {
		return fmt.Errorf("action %s already registered", class)
	}
	r.actions[class] = factory
	return nil
}

// MustRegisterTrigger is like RegisterTrigger but panics on error.
func (r *Registry) MustRegisterTrigger(class string, factory TriggerFactory) {
	if err := r.RegisterTrigger(class, factory); err != nil {
		panic(err)
	}
}

// MustRegisterAction is like RegisterAction but panics on error.
func (r *Registry) MustRegisterAction(class string, factory ActionFactory) {
	if err := r.RegisterAction(class, factory); err != nil {
		panic(err)
	}
}

// NewTrigger constructs a handler for the given trigger class.
func (r *Registry) NewTrigger(class string) (Trigger, bool) {
	r.mu.RLock()
	factory, ok := r.triggers[class]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// NewAction constructs a handler for the given action class.
func (r *Registry) NewAction(class string) (Action, bool) {
	r.mu.RLock()
	factory, ok := r.actions[class]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// HasTrigger reports whether a trigger class is registered.
func (r *Registry) HasTrigger(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.triggers[class]
	return ok
}

// HasAction reports whether an action class is registered.
func (r *Registry) HasAction(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[class]
	return ok
}

// Classes returns every registered class sorted by kind then name.
func (r *Registry) Classes() []Class {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]Class, 0, len(r.triggers)+len(r.actions))
	for name := range r.triggers {
		classes = append(classes, Class{Name: name, Kind: KindTrigger})
	}
	for name := range r.actions {
		classes = append(classes, Class{Name: name, Kind: KindAction})
	}

	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Kind != classes[j].Kind {
			return classes[i].Kind > classes[j].Kind
		}
		return classes[i].Name < classes[j].Name
	})
	return classes
}

// Verify returns the subset of the given classes that have no registered
// handler. It is used at startup to surface catalog entries that would
// otherwise only fail when a zap reaches them.
func (r *Registry) Verify(classes []Class) []Class {
	var missing []Class
	for _, c := range classes {
		switch c.Kind {
		case KindTrigger:
			if !r.HasTrigger(c.Name) {
				missing = append(missing, c)
			}
		case KindAction:
			if !r.HasAction(c.Name) {
				missing = append(missing, c)
			}
		default:
			missing = append(missing, c)
		}
	}
	return missing
}
