package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openzap/openzap/pkg/telemetry"
)

// ErrZapBusy is returned by RunZap when the zap is already running.
var ErrZapBusy = errors.New("zap is already running")

// SchedulerConfig tunes the sweep loop.
type SchedulerConfig struct {
	// Interval is the minimum delay between sweeps.
	Interval time.Duration

	// Jitter adds a random delay in [0, Jitter) to each interval.
	Jitter time.Duration

	// Workers bounds how many zaps run concurrently.
	Workers int

	// ShutdownGrace is how long in-flight runs may keep going after Run's
	// context is cancelled before their handler calls are cancelled too.
	ShutdownGrace time.Duration
}

// DefaultSchedulerConfig returns the defaults used by zapd.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      10 * time.Second,
		Jitter:        2 * time.Second,
		Workers:       4,
		ShutdownGrace: 10 * time.Second,
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Active      int           `json:"active"`
	Dispatched  int           `json:"dispatched"`
	SkippedBusy int           `json:"skipped_busy"`
	Duration    time.Duration `json:"duration"`
}

// Scheduler repeatedly lists active zaps and dispatches each to the chain
// executor on a bounded worker pool. A zap is never run twice at once.
type Scheduler struct {
	config SchedulerConfig
	zaps   ZapSource
	chain  *ChainExecutor

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	// slots bounds concurrent zap runs.
	slots chan struct{}
	wake  chan struct{}
	wg    sync.WaitGroup

	// mu protects running
	mu      sync.Mutex
	running map[string]struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, zaps ZapSource, chain *ChainExecutor, tel *telemetry.Telemetry) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}

	return &Scheduler{
		config:  cfg,
		zaps:    zaps,
		chain:   chain,
		logger:  tel.Logger.NewComponentLogger("scheduler"),
		metrics: tel.Metrics,
		tracer:  tel.Tracer,
		events:  tel.Events,
		slots:   make(chan struct{}, cfg.Workers),
		wake:    make(chan struct{}, 1),
		running: make(map[string]struct{}),
	}
}

// Run sweeps until ctx is cancelled, then waits for in-flight runs. Runs
// still going after ShutdownGrace have their handler calls cancelled and
// are recorded as failed.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	s.logger.Infof("scheduler started (interval=%s jitter=%s workers=%d)",
		s.config.Interval, s.config.Jitter, s.config.Workers)

	for {
		s.sweep(ctx, runCtx)

		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.drain(cancelRuns)
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// drain waits for in-flight runs, cancelling them once the grace period
// has passed.
func (s *Scheduler) drain(cancelRuns context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.config.ShutdownGrace > 0 {
		select {
		case <-done:
			return
		case <-time.After(s.config.ShutdownGrace):
			s.logger.Warn("shutdown grace period elapsed, cancelling in-flight runs")
		}
	}

	cancelRuns()
	<-done
}

// Wake requests an immediate sweep.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Sweep lists active zaps once and dispatches each that is not already
// running. It returns once every zap is dispatched; use Wait to block until
// the dispatched runs finish.
func (s *Scheduler) Sweep(ctx context.Context) SweepStats {
	return s.sweep(ctx, ctx)
}

// Wait blocks until all dispatched runs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx, runCtx context.Context) SweepStats {
	start := time.Now()
	ctx, span := s.tracer.StartSweepSpan(ctx)
	defer span.End()

	var stats SweepStats

	zaps, err := s.zaps.ListActiveZaps(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("failed to list active zaps")
			s.metrics.RecordError(string(ErrorClassStorage), ErrCodeStoreFailed)
		}
		telemetry.RecordError(span, err)
		return stats
	}

dispatch:
	for _, zap := range zaps {
		if !zap.IsActive {
			continue
		}
		stats.Active++

		if !s.tryLock(zap.ID) {
			stats.SkippedBusy++
			s.metrics.RecordSkippedBusy()
			s.logger.WithZap(zap.ID, zap.Name).Debug("previous run still in flight, skipping")
			continue
		}

		// Wait for a worker slot
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			s.unlock(zap.ID)
			break dispatch
		}

		stats.Dispatched++
		s.wg.Add(1)
		go func(zap *Zap) {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			defer s.unlock(zap.ID)

			_, _ = s.runGuarded(runCtx, zap, ExecuteOptions{})
		}(zap)
	}

	// Record sweep metrics
	stats.Duration = time.Since(start)
	s.metrics.RecordSweep(stats.Duration, stats.Active)
	span.SetAttributes(
		telemetry.AttrActiveZaps.Int(stats.Active),
		telemetry.AttrSkippedZaps.Int(stats.SkippedBusy),
	)
	_ = s.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeSweepCompleted,
		Message: fmt.Sprintf("dispatched %d of %d active zaps", stats.Dispatched, stats.Active),
		Data: map[string]interface{}{
			"active":       stats.Active,
			"dispatched":   stats.Dispatched,
			"skipped_busy": stats.SkippedBusy,
		},
	})

	return stats
}

// RunZap runs one zap immediately under its run lock, outside the sweep
// cycle. Errors are returned rather than swallowed.
func (s *Scheduler) RunZap(ctx context.Context, zapID string, opts ExecuteOptions) (Outcome, error) {
	zap, err := s.zaps.GetZap(ctx, zapID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to load zap: %w", err)
	}
	if zap == nil {
		return OutcomeFailed, fmt.Errorf("zap not found: %s", zapID)
	}

	if !s.tryLock(zap.ID) {
		return OutcomeFailed, ErrZapBusy
	}
	defer s.unlock(zap.ID)

	return s.runGuarded(ctx, zap, opts)
}

// runGuarded is the per-zap error boundary: errors and panics are logged
// and counted, never propagated to the loop.
func (s *Scheduler) runGuarded(ctx context.Context, zap *Zap, opts ExecuteOptions) (outcome Outcome, err error) {
	logger := s.logger.WithZap(zap.ID, zap.Name)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("zap run panicked: %v\n%s", r, debug.Stack())
			outcome = OutcomeFailed
			err = NewHandlerError(fmt.Sprintf("zap run panicked: %v", r), nil).
				WithZap(zap.ID).WithCode(ErrCodeHandlerPanic)
		}

		s.metrics.RecordZapOutcome(string(outcome))

		switch {
		case err == nil:
			logger.Debugf("zap run finished: %s", outcome)
		case IsCancelled(err):
			logger.WithError(err).Warn("zap run interrupted by shutdown")
		default:
			logger.WithError(err).Error("zap run failed")
			s.metrics.RecordError(string(ClassOf(err)), CodeOf(err))
		}
	}()

	return s.chain.Execute(ctx, zap, opts)
}

func (s *Scheduler) tryLock(zapID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[zapID]; busy {
		return false
	}
	s.running[zapID] = struct{}{}
	return true
}

func (s *Scheduler) unlock(zapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, zapID)
}

// Running reports whether a zap currently holds its run lock.
func (s *Scheduler) Running(zapID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.running[zapID]
	return busy
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.config.Jitter <= 0 {
		return s.config.Interval
	}
	return s.config.Interval + rand.N(s.config.Jitter)
}
