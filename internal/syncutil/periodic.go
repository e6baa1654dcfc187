package syncutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Periodic calls a function on a fixed interval until its context ends or
// Stop is called. A panic inside one tick is logged and the loop carries on.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	running  atomic.Bool
}

// NewPeriodic builds a loop named for log output. A non-positive interval
// yields a loop whose Run returns at once.
func NewPeriodic(name string, interval time.Duration, logger *slog.Logger, fn func(context.Context)) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Enabled reports whether Run will tick at all.
func (p *Periodic) Enabled() bool { return p.interval > 0 }

// Running reports whether Run is inside its loop.
func (p *Periodic) Running() bool { return p.running.Load() }

// Run blocks until ctx is done or Stop is called.
func (p *Periodic) Run(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Info(p.name + " disabled")
		return
	}
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop ends Run. Safe to call more than once and before Run starts.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Periodic) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in "+p.name, "panic", fmt.Sprint(r))
		}
	}()
	p.fn(ctx)
}
