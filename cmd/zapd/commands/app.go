package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/openzap/openzap/pkg/config"
	"github.com/openzap/openzap/pkg/engine"
	"github.com/openzap/openzap/pkg/integrations"
	"github.com/openzap/openzap/pkg/policy"
	"github.com/openzap/openzap/pkg/registry"
	"github.com/openzap/openzap/pkg/stores"
	"github.com/openzap/openzap/pkg/telemetry"
)

// app is the wired daemon: configuration, telemetry, store and handler
// registry.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    stores.Store
	registry *registry.Registry
	policies *policy.Engine
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openStore connects to the configured store and optionally migrates it.
func openStore(ctx context.Context, cfg stores.Config, migrate bool) (stores.Store, error) {
	store, err := stores.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return store, nil
}

// newApp builds everything a scheduler needs. The store is migrated so a
// fresh database is usable right away.
func newApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(cfg.TelemetrySettings(opts.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Lifecycle events go to the log
	tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger.NewComponentLogger("events")), nil)

	reg, err := integrations.NewRegistry(cfg.IntegrationOptions())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	store, err := openStore(ctx, cfg.Store, true)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &app{cfg: cfg, tel: tel, store: store, registry: reg}, nil
}

func (a *app) close(ctx context.Context) {
	if a.policies != nil {
		_ = a.policies.StopWatching()
	}
	if err := a.store.Close(); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to close store")
	}
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to shut down telemetry")
	}
}

// guard builds the policy engine when policies or disabled services are
// configured. It returns nil when nothing gates handler calls.
func (a *app) guard(ctx context.Context) (*policy.Engine, error) {
	pc := a.cfg.Policy
	if !pc.Enabled && len(pc.DisabledServices) == 0 {
		return nil, nil
	}

	eng, err := policy.NewEngine(a.tel.Logger.Zerolog(), policy.WithEnvironment(a.cfg.Telemetry.Environment))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if err := eng.SetDisabledServices(ctx, pc.DisabledServices); err != nil {
		return nil, err
	}

	if pc.Enabled && len(pc.Paths) > 0 {
		if pc.Watch {
			err = eng.WatchPolicies(ctx, pc.Paths)
		} else {
			err = eng.LoadPolicies(ctx, pc.Paths)
		}
		if err != nil {
			return nil, err
		}
	}

	a.policies = eng
	return eng, nil
}

// newScheduler wires the chain executor and scheduler over the app's store.
func (a *app) newScheduler(ctx context.Context) (*engine.Scheduler, error) {
	chainOpts := []engine.ChainOption{engine.WithCallTimeout(a.cfg.Scheduler.CallTimeout)}

	guard, err := a.guard(ctx)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		chainOpts = append(chainOpts, engine.WithGuard(guard))
	}

	chain := engine.NewChainExecutor(a.store, a.registry, a.tel, chainOpts...)
	return engine.NewScheduler(a.cfg.SchedulerSettings(), a.store, chain, a.tel), nil
}

// verifyCatalog reports stored definitions whose class has no handler.
func (a *app) verifyCatalog(ctx context.Context) ([]registry.Class, error) {
	triggers, err := a.store.ListTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	actions, err := a.store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	classes := make([]registry.Class, 0, len(triggers)+len(actions))
	for _, def := range triggers {
		classes = append(classes, registry.Class{Name: def.ClassName, Kind: registry.KindTrigger})
	}
	for _, def := range actions {
		classes = append(classes, registry.Class{Name: def.ClassName, Kind: registry.KindAction})
	}
	return a.registry.Verify(classes), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
