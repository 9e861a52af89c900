// File: internal/inline/observer.go
// Description: Background selection observer. Polls the host's current
// text selection off the critical path and keeps the latest snapshot
// for the pipeline to attach to automation actions. Everything here is
// best-effort: a failed poll or stale snapshot degrades enrichment,
// never a request.
package inline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// Observer polls a SelectionSource on an interval.
type Observer struct {
	source    schemas.SelectionSource
	interval  time.Duration
	staleness time.Duration
	clock     schemas.Clock
	logger    *zap.Logger

	mu     sync.RWMutex
	latest schemas.InlineSelection
	have   bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds an Observer; Start begins polling.
func New(source schemas.SelectionSource, cfg config.InlineConfig, clock schemas.Clock, logger *zap.Logger) *Observer {
	if clock == nil {
		clock = schemas.SystemClock{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	staleness := cfg.Staleness
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	return &Observer{
		source:    source,
		interval:  interval,
		staleness: staleness,
		clock:     clock,
		logger:    logger.Named("inline"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop. It returns immediately; Stop (or
// context cancellation) ends the loop.
func (o *Observer) Start(ctx context.Context) {
	go o.loop(ctx)
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Observer) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, o.interval)
	defer cancel()
	sel, err := o.source.Current(pollCtx)
	if err != nil {
		o.logger.Debug("Selection poll failed", zap.Error(err))
		return
	}
	if sel.Length == 0 {
		return
	}
	if sel.CapturedAt.IsZero() {
		sel.CapturedAt = o.clock.Now()
	}
	o.mu.Lock()
	o.latest = sel
	o.have = true
	o.mu.Unlock()
}

// Stop ends the polling loop and waits for it to exit. Safe to call
// more than once.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

// Snapshot returns the latest selection if one exists and is inside the
// staleness window. Implements the pipeline's ContextProvider.
func (o *Observer) Snapshot() (schemas.InlineSelection, bool) {
	o.mu.RLock()
	sel, have := o.latest, o.have
	o.mu.RUnlock()
	if !have {
		return schemas.InlineSelection{}, false
	}
	if o.clock.Now().Sub(sel.CapturedAt) > o.staleness {
		return schemas.InlineSelection{}, false
	}
	return sel, true
}
