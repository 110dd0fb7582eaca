package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is a document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// Environment variables applied over file values.
const (
	EnvStoreDriver = "OPENZAP_STORE_DRIVER"
	EnvStoreDSN    = "OPENZAP_STORE_DSN"
	EnvLogLevel    = "OPENZAP_LOG_LEVEL"
	EnvLogFormat   = "OPENZAP_LOG_FORMAT"
	EnvMetricsAddr = "OPENZAP_METRICS_ADDR"
)

// FormatFor picks the document format from a file extension. JSON is read
// as YAML.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q (want .yaml, .yml, .json or .cue)", filepath.Ext(path))
	}
}

// Loader reads configuration and catalog documents.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
	getenv   func(string) string
}

// NewLoader creates a loader reading overrides from the process environment.
func NewLoader() *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: v,
		getenv:   os.Getenv,
	}
}

// Load reads the configuration at path. An empty path yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load reads the configuration at path. An empty path yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		l.applyEnv(cfg)
		if err := l.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.LoadBytes(data, format, path)
}

// LoadBytes parses a configuration document over the defaults.
func (l *Loader) LoadBytes(data []byte, format Format, source string) (*Config, error) {
	cfg := Default()
	if err := l.decode(data, format, source, SchemaConfig, cfg); err != nil {
		return nil, err
	}
	l.applyEnv(cfg)
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry settings.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		out := make([]ValidationError, len(verrs))
		for i, fe := range verrs {
			out[i] = ValidationError{
				Path:     strings.TrimPrefix(fe.Namespace(), "Config."),
				Message:  fmt.Sprintf("failed on '%s' (value %v)", describeTag(fe), fe.Value()),
				Severity: "error",
			}
		}
		return &LoadError{Source: "config", Errors: out}
	}

	if err := cfg.TelemetrySettings("").Validate(); err != nil {
		return &LoadError{Source: "config", Errors: []ValidationError{{
			Path:     "telemetry",
			Message:  err.Error(),
			Severity: "error",
		}}}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.getenv(EnvStoreDriver); v != "" {
		cfg.Store.Driver = v
	}
	if v := l.getenv(EnvStoreDSN); v != "" {
		cfg.Store.DSN = v
	}
	if v := l.getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := l.getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := l.getenv(EnvMetricsAddr); v != "" {
		cfg.Telemetry.Metrics.ListenAddress = v
	}
}

// decode checks a document against a schema and decodes it into out. Both
// formats end up in the YAML decoder so duration strings parse the same way.
func (l *Loader) decode(data []byte, format Format, source, schemaName string, out any) error {
	var doc []byte

	switch format {
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return &LoadError{Source: source, Errors: []ValidationError{{File: source, Message: err.Error(), Severity: "error"}}}
		}
		if raw == nil {
			return nil
		}
		if _, errs := l.schemas.ValidateData(schemaName, raw); len(errs) > 0 {
			return &LoadError{Source: source, Errors: withFile(errs, source)}
		}
		doc = data

	case FormatCUE:
		val := l.schemas.Context().CompileBytes(data, cue.Filename(source))
		if err := val.Err(); err != nil {
			return &LoadError{Source: source, Errors: convertCUEErrors(err)}
		}
		unified, errs := l.schemas.Validate(schemaName, val)
		if len(errs) > 0 {
			return &LoadError{Source: source, Errors: errs}
		}
		encoded, err := unified.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", source, err)
		}
		doc = encoded

	default:
		return fmt.Errorf("unsupported format %q", format)
	}

	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &LoadError{Source: source, Errors: []ValidationError{{File: source, Message: err.Error(), Severity: "error"}}}
	}
	return nil
}

func withFile(errs []ValidationError, file string) []ValidationError {
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = file
		}
	}
	return errs
}
