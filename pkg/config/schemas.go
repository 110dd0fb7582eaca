package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Names of the built-in schemas.
const (
	SchemaConfig  = "config"
	SchemaCatalog = "catalog"
)

// SchemaRegistry manages CUE schemas used to check documents before they
// are decoded into Go types.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaConfig, builtinConfigSchema, "#Config"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaCatalog, builtinCatalogSchema, "#Catalog"); err != nil {
		panic(err)
	}
	return sr
}

// Context returns the CUE context schemas are compiled in. Values checked
// against a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles src and registers the definition named def under
// name.
func (sr *SchemaRegistry) RegisterSchema(name, src, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, def)
	}

	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies val with the named schema and requires the result to be
// concrete. The unified value is returned so defaults declared by the schema
// are visible to the caller.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) (cue.Value, []ValidationError) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, []ValidationError{{Message: fmt.Sprintf("schema %s not found", schemaName), Severity: "error"}}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return unified, nil
}

// ValidateData encodes a Go value and validates it against the named schema.
func (sr *SchemaRegistry) ValidateData(schemaName string, data any) (cue.Value, []ValidationError) {
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return sr.Validate(schemaName, val)
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}
	return validationErrors
}

// Built-in schema definitions

const builtinConfigSchema = `
#Duration: string

#Config: {
	log?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "disabled"
		format?: "console" | "json"
		...
	}
	store?: {
		driver?:            "sqlite" | "postgres"
		dsn?:               string
		max_open_conns?:    int & >=0
		max_idle_conns?:    int & >=0
		conn_max_lifetime?: #Duration
	}
	scheduler?: {
		interval?:       #Duration
		jitter?:         #Duration
		workers?:        int & >=1
		shutdown_grace?: #Duration
		call_timeout?:   #Duration
	}
	telemetry?: {
		service_name?: string & !=""
		environment?:  string
		tracing?: {...}
		metrics?: {...}
		events?: {...}
	}
	policy?: {
		enabled?: bool
		paths?: [...string]
		watch?: bool
		disabled_services?: [...string]
	}
	integrations?: {
		http_timeout?:         #Duration
		script_timeout?:       #Duration
		sftp_connect_timeout?: #Duration
	}
}
`

const builtinCatalogSchema = `
#ID: string & !=""

#Connection: {
	id:            #ID
	service_id:    #ID
	name?:         string
	access_token?: string
	created_at?:   string
}

#Trigger: {
	id:                #ID
	service_id:        #ID
	name?:             string
	class_name:        #ID
	trigger_type:      "webhook" | "polling" | "schedule"
	polling_interval?: string
	variables?: [string]: string
}

#Action: {
	id:         #ID
	service_id: #ID
	name?:      string
	class_name: #ID
	variables?: [string]: string
}

#Step: {
	id:              #ID
	zap_id?:         string
	step_type:       "trigger" | "action"
	step_order:      int & >=0
	trigger_id?:     string
	action_id?:      string
	connection_id?:  string
	source_step_id?: string
	payload?: {...}
}

#Zap: {
	id:         #ID
	name:       string
	is_active?: bool
	steps?: [...#Step]
}

#Catalog: {
	connections?: [...#Connection]
	triggers?: [...#Trigger]
	actions?: [...#Action]
	zaps?: [...#Zap]
}
`
