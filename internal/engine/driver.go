package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Driver fires Engine.Tick on a fixed interval. Ticks never overlap: a slow
// tick delays the next one instead of running beside it.
type Driver struct {
	engine   *Engine
	clock    Clock
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a Driver. A nil clock uses the system clock.
func NewDriver(e *Engine, clock Clock, interval time.Duration) *Driver {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Driver{
		engine:   e,
		clock:    clock,
		interval: interval,
		logger:   e.logger.Named("driver"),
	}
}

// Start launches the tick loop. It returns immediately; calling it twice
// is a no-op.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	ticker := d.clock.NewTicker(d.interval)
	go func() {
		defer close(d.done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C():
				d.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	d.logger.Info("driver started", zap.Duration("interval", d.interval))
}

func (d *Driver) tick(ctx context.Context) {
	report, err := d.engine.Tick(ctx, d.clock.Now())
	switch {
	case errors.Is(err, ErrStaleTick):
		d.logger.Warn("clock did not advance, tick skipped", zap.Error(err))
	case err != nil:
		d.logger.Error("tick failed", zap.Error(err))
	case report.Sent() > 0:
		d.logger.Info("tick sent messages",
			zap.Int("scanned", report.Scanned),
			zap.Int("sent", report.Sent()))
	}
}

// Stop cancels the running tick, if any, and waits for the loop to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("driver stopped")
}
