package config

import (
	"time"

	"github.com/openzap/openzap/pkg/engine"
	"github.com/openzap/openzap/pkg/integrations"
	"github.com/openzap/openzap/pkg/stores"
	"github.com/openzap/openzap/pkg/telemetry"
)

// Config is the zapd daemon configuration.
type Config struct {
	Log          telemetry.LoggingConfig `yaml:"log" json:"log"`
	Store        stores.Config           `yaml:"store" json:"store"`
	Scheduler    SchedulerConfig         `yaml:"scheduler" json:"scheduler"`
	Telemetry    TelemetryConfig         `yaml:"telemetry" json:"telemetry"`
	Policy       PolicyConfig            `yaml:"policy" json:"policy"`
	Integrations IntegrationsConfig      `yaml:"integrations" json:"integrations"`
}

// SchedulerConfig configures the sweep loop and handler calls.
type SchedulerConfig struct {
	// Interval is the minimum delay between sweeps.
	Interval time.Duration `yaml:"interval" json:"interval" validate:"gt=0"`

	// Jitter adds a random delay in [0, Jitter) to each interval.
	Jitter time.Duration `yaml:"jitter" json:"jitter" validate:"gte=0"`

	// Workers bounds how many zaps run concurrently.
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=1024"`

	// ShutdownGrace is how long in-flight runs may finish after a stop signal.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace" validate:"gte=0"`

	// CallTimeout bounds every trigger check and action run.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" validate:"gt=0"`
}

// TelemetryConfig configures tracing, metrics and lifecycle events. Logging
// lives in Config.Log.
type TelemetryConfig struct {
	ServiceName string                  `yaml:"service_name" json:"service_name" validate:"required"`
	Environment string                  `yaml:"environment" json:"environment"`
	Tracing     telemetry.TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics     telemetry.MetricsConfig `yaml:"metrics" json:"metrics"`
	Events      telemetry.EventsConfig  `yaml:"events" json:"events"`
}

// PolicyConfig configures the handler invocation gate.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Paths lists rego files or directories to load.
	Paths []string `yaml:"paths" json:"paths" validate:"dive,required"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch" json:"watch"`

	// DisabledServices denies every handler of the listed service ids.
	DisabledServices []string `yaml:"disabled_services" json:"disabled_services" validate:"dive,required"`
}

// IntegrationsConfig tunes the built-in triggers and actions.
type IntegrationsConfig struct {
	HTTPTimeout        time.Duration `yaml:"http_timeout" json:"http_timeout" validate:"gt=0"`
	ScriptTimeout      time.Duration `yaml:"script_timeout" json:"script_timeout" validate:"gt=0"`
	SFTPConnectTimeout time.Duration `yaml:"sftp_connect_timeout" json:"sftp_connect_timeout" validate:"gt=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	sched := engine.DefaultSchedulerConfig()
	integ := integrations.DefaultOptions()

	return &Config{
		Log: tel.Logging,
		Store: stores.Config{
			Driver: stores.DriverSQLite,
			DSN:    "openzap.db",
		},
		Scheduler: SchedulerConfig{
			Interval:      sched.Interval,
			Jitter:        sched.Jitter,
			Workers:       sched.Workers,
			ShutdownGrace: sched.ShutdownGrace,
			CallTimeout:   engine.DefaultCallTimeout,
		},
		Telemetry: TelemetryConfig{
			ServiceName: tel.ServiceName,
			Environment: tel.Environment,
			Tracing:     tel.Tracing,
			Metrics:     tel.Metrics,
			Events:      tel.Events,
		},
		Integrations: IntegrationsConfig{
			HTTPTimeout:        integ.HTTPTimeout,
			ScriptTimeout:      integ.ScriptTimeout,
			SFTPConnectTimeout: integ.SFTPConnectTimeout,
		},
	}
}

// SchedulerSettings converts the scheduler section for engine.NewScheduler.
func (c *Config) SchedulerSettings() engine.SchedulerConfig {
	return engine.SchedulerConfig{
		Interval:      c.Scheduler.Interval,
		Jitter:        c.Scheduler.Jitter,
		Workers:       c.Scheduler.Workers,
		ShutdownGrace: c.Scheduler.ShutdownGrace,
	}
}

// TelemetrySettings assembles the telemetry package configuration.
func (c *Config) TelemetrySettings(version string) *telemetry.Config {
	return &telemetry.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    c.Telemetry.Environment,
		Logging:        c.Log,
		Tracing:        c.Telemetry.Tracing,
		Metrics:        c.Telemetry.Metrics,
		Events:         c.Telemetry.Events,
	}
}

// IntegrationOptions converts the integrations section.
func (c *Config) IntegrationOptions() integrations.Options {
	return integrations.Options{
		HTTPTimeout:        c.Integrations.HTTPTimeout,
		ScriptTimeout:      c.Integrations.ScriptTimeout,
		SFTPConnectTimeout: c.Integrations.SFTPConnectTimeout,
	}
}
