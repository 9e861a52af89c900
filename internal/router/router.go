// File: internal/router/router.go
// Description: Executor selection. Native adapters are preferred; each
// carries a cached health verdict refreshed by rate-limited probes. An
// unhealthy or twice-failed native path falls back to the sandboxed
// executor when the action allows it.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// health is the cached probe verdict for one adapter.
type health struct {
	mu        sync.Mutex
	healthy   bool
	checkedAt time.Time
	limiter   *rate.Limiter
}

// Router picks an executor for every action.
type Router struct {
	adapters []schemas.NativeAdapter
	sandbox  schemas.Executor
	clock    schemas.Clock
	cfg      config.RouterConfig
	logger   *zap.Logger

	healthByName map[string]*health
}

// New builds a Router over the given native adapters and the optional
// sandboxed fallback executor.
func New(adapters []schemas.NativeAdapter, sandbox schemas.Executor, cfg config.RouterConfig, clock schemas.Clock, logger *zap.Logger) *Router {
	if clock == nil {
		clock = schemas.SystemClock{}
	}
	if cfg.ProbeFreshness <= 0 {
		cfg.ProbeFreshness = 30 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	r := &Router{
		adapters:     adapters,
		sandbox:      sandbox,
		clock:        clock,
		cfg:          cfg,
		logger:       logger.Named("router"),
		healthByName: make(map[string]*health, len(adapters)),
	}
	for _, a := range adapters {
		r.healthByName[a.Name()] = &health{
			limiter: rate.NewLimiter(rate.Every(cfg.ProbeInterval), 1),
		}
	}
	return r
}

// RefreshHealth probes every adapter concurrently. Used at startup so
// the first routed action does not pay probe latency.
func (r *Router) RefreshHealth(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range r.adapters {
		adapter := adapter
		g.Go(func() error {
			r.probe(gctx, adapter)
			return nil
		})
	}
	_ = g.Wait()
}

// healthy returns the adapter's verdict, probing when the cached one
// has aged out. The per-adapter limiter keeps a flapping adapter from
// being probed on every action.
func (r *Router) healthy(ctx context.Context, adapter schemas.NativeAdapter) bool {
	h := r.healthByName[adapter.Name()]
	h.mu.Lock()
	fresh := r.clock.Now().Sub(h.checkedAt) < r.cfg.ProbeFreshness
	verdict := h.healthy
	h.mu.Unlock()
	if fresh {
		return verdict
	}
	if !h.limiter.Allow() {
		// Probe budget exhausted; reuse the stale verdict until the
		// limiter refills.
		return verdict
	}
	return r.probe(ctx, adapter)
}

func (r *Router) probe(ctx context.Context, adapter schemas.NativeAdapter) bool {
	err := adapter.Probe(ctx)
	h := r.healthByName[adapter.Name()]
	h.mu.Lock()
	h.healthy = err == nil
	h.checkedAt = r.clock.Now()
	verdict := h.healthy
	h.mu.Unlock()
	if err != nil {
		r.logger.Warn("Adapter probe failed",
			zap.String("adapter", adapter.Name()), zap.Error(err))
	}
	return verdict
}

// route picks the executor for an action. Decision order: forced
// sandbox, healthy native adapter, sandbox for uncovered types, sandbox
// fallback, nothing.
func (r *Router) route(ctx context.Context, action schemas.Action) (schemas.Executor, string, error) {
	if action.SandboxOnly {
		if r.sandbox == nil {
			return nil, "", fmt.Errorf("%w: sandbox executor not configured", schemas.ErrNoExecutor)
		}
		return r.sandbox, "sandbox", nil
	}
	var covered bool
	for _, adapter := range r.adapters {
		if !adapter.Handles(action.Type) {
			continue
		}
		covered = true
		if r.healthy(ctx, adapter) {
			return adapter, adapter.Name(), nil
		}
	}
	// A type no native adapter handles is sandbox work whether or not
	// the action says so.
	if !covered {
		if r.sandbox == nil {
			return nil, "", fmt.Errorf("%w: %q", schemas.ErrNoExecutor, action.Type)
		}
		r.logger.Info("No native adapter for type; routing to sandbox",
			zap.String("action", string(action.Type)))
		return r.sandbox, "sandbox", nil
	}
	if action.FallbackEligible && r.sandbox != nil {
		r.logger.Info("No healthy native adapter; routing to sandbox",
			zap.String("action", string(action.Type)))
		return r.sandbox, "sandbox", nil
	}
	return nil, "", fmt.Errorf("%w: all native adapters for %q are unhealthy", schemas.ErrNoExecutor, action.Type)
}

// Preview routes the action and returns its dry-run summary. Previews
// never retry; a failed preview just surfaces.
func (r *Router) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	executor, name, err := r.route(ctx, action)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	r.logger.Debug("Previewing action",
		zap.String("action", string(action.Type)), zap.String("executor", name))
	return executor.Preview(ctx, action)
}

// Execute routes and runs the action under the retry policy: a
// transient native failure gets exactly one native retry, then the
// sandbox fallback if the action is eligible. Non-transient failures
// are never retried.
func (r *Router) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, string, error) {
	executor, name, err := r.route(ctx, action)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, "", err
	}

	result, err := r.execOnce(ctx, executor, action)
	if err == nil || name == "sandbox" {
		return result, name, err
	}
	if !errors.Is(err, schemas.ErrExecutorTransient) {
		return result, name, err
	}

	r.logger.Warn("Transient failure; retrying once",
		zap.String("action", string(action.Type)), zap.String("executor", name), zap.Error(err))
	result, err = r.execOnce(ctx, executor, action)
	if err == nil || !errors.Is(err, schemas.ErrExecutorTransient) {
		return result, name, err
	}

	if action.FallbackEligible && r.sandbox != nil {
		r.markUnhealthy(name)
		r.logger.Warn("Native retry failed; falling back to sandbox",
			zap.String("action", string(action.Type)), zap.String("adapter", name))
		result, err = r.execOnce(ctx, r.sandbox, action)
		return result, "sandbox", err
	}
	return result, name, err
}

func (r *Router) execOnce(ctx context.Context, executor schemas.Executor, action schemas.Action) (schemas.ActionResult, error) {
	if r.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ExecTimeout)
		defer cancel()
	}
	return executor.Execute(ctx, action)
}

// markUnhealthy records a failed execution as a health signal so the
// next routing decision skips the adapter until a probe clears it.
func (r *Router) markUnhealthy(name string) {
	h, ok := r.healthByName[name]
	if !ok {
		return
	}
	h.mu.Lock()
	h.healthy = false
	h.checkedAt = r.clock.Now()
	h.mu.Unlock()
}
