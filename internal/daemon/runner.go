// Package daemon runs the enforcement loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"curfewd/internal/domain"
)

// Ticker is one enforcement pass. Implemented by usecase.Engine.
type Ticker interface {
	Tick(ctx context.Context) domain.TickResult
}

// IntervalFunc returns the delay before the next tick, read fresh after
// every pass so config changes apply from the following tick.
type IntervalFunc func() time.Duration

// Runner drives the engine on a single-shot, self-rearming timer: run one
// tick, then arm the delay measured from tick completion. At most one
// tick ever executes at a time; a slow pass delays the next one, it never
// stacks. A panicking tick is logged and the timer re-armed, so the loop
// never silently dies.
type Runner struct {
	ticker   Ticker
	interval IntervalFunc
	logger   *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(ticker Ticker, interval IntervalFunc, logger *zap.Logger) *Runner {
	return &Runner{ticker: ticker, interval: interval, logger: logger}
}

// Run executes ticks until ctx is canceled. The first tick runs
// immediately on startup.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("enforcement loop started")

	for {
		r.runTick(ctx)

		delay := r.interval()
		if delay < time.Second {
			delay = time.Second
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("enforcement loop stopping")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runTick executes one pass, containing any panic that escapes the
// engine's own per-instance handling.
func (r *Runner) runTick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"))
		}
	}()

	result := r.ticker.Tick(ctx)

	if len(result.Detected) > 0 || len(result.Terminated) > 0 ||
		len(result.Skipped) > 0 || len(result.Failed) > 0 {
		r.logger.Info("tick completed",
			zap.Bool("active", result.Active),
			zap.Int("detected", len(result.Detected)),
			zap.Int("terminated", len(result.Terminated)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("failed", len(result.Failed)),
			zap.Int("pending", result.Pending))
	}
}
