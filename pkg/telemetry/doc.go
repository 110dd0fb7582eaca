// Package telemetry provides observability instrumentation for the zap engine.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
//
// # Usage
//
// Initialize telemetry at daemon startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.Metrics.StartMetricsServer(ctx, tel.Logger); err != nil {
//	    return err
//	}
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("scheduler")
//	logger.WithZap(zap.ID, zap.Name).WithExecution(execID).Info("execution opened")
//
// Log levels: trace, debug, info, warn, error, fatal, disabled.
//
// # Metrics
//
// Every Record* method is safe on a nil or disabled *Metrics, so engine code
// never checks whether metrics are configured. Exposed series include sweep
// counts and durations, zap outcomes, executions by status, step executions
// by class, handler latency and handler errors.
//
// # Events
//
// The engine publishes execution.started, execution.completed,
// execution.failed, execution.discarded, step.completed, step.failed and
// sweep.completed events. Subscribers registered with Subscribe receive them
// in publish order.
package telemetry
