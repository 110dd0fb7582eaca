package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openzap/openzap/pkg/engine"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Driver names accepted in Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds store configuration.
type Config struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver" validate:"omitempty,oneof=sqlite postgres"`

	// DSN is a file path or ":memory:" for SQLite and a connection URL for
	// Postgres.
	DSN string `yaml:"dsn" json:"dsn" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" validate:"gte=0"`
}

// Connection is an authorized link to an external service.
type Connection struct {
	ID          string    `json:"id" yaml:"id"`
	ServiceID   string    `json:"service_id" yaml:"service_id"`
	Name        string    `json:"name" yaml:"name"`
	AccessToken string    `json:"access_token" yaml:"access_token"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	ZapID  string
	Status engine.ExecutionStatus
	Limit  int
	Offset int
}

// Store is the persistence layer: the engine's read and write contracts
// plus lifecycle, seeding and inspection.
type Store interface {
	engine.Store

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Zaps and steps
	CreateZap(ctx context.Context, zap *engine.Zap) error
	SetZapActive(ctx context.Context, zapID string, active bool) error
	ListZaps(ctx context.Context) ([]*engine.Zap, error)
	CreateStep(ctx context.Context, step *engine.Step) error

	// Catalog
	PutTrigger(ctx context.Context, def *engine.TriggerDefinition) error
	PutAction(ctx context.Context, def *engine.ActionDefinition) error
	ListTriggers(ctx context.Context) ([]*engine.TriggerDefinition, error)
	ListActions(ctx context.Context) ([]*engine.ActionDefinition, error)
	PutConnection(ctx context.Context, conn *Connection) error

	// Execution history
	GetExecution(ctx context.Context, id string) (*engine.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*engine.Execution, error)
	ListStepExecutions(ctx context.Context, executionID string) ([]*engine.StepExecution, error)
	FailStaleExecutions(ctx context.Context, reason string) (int64, error)
}

// Open creates a store for cfg.Driver. Call Init before use.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteStore(cfg)
	case DriverPostgres:
		return NewPostgresStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
