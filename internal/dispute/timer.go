package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps active disputes: lapsed evidence windows move
// to arbitration and SLA breaches escalate to manual review.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new dispute sweep timer.
func NewTimer(service *Service, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep interval.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in dispute timer", "panic", fmt.Sprint(r))
		}
	}()
	t.service.Sweep(ctx, time.Now(), 100)
}
