// File: internal/pipeline/pipeline.go
// Description: The action lifecycle: drafted actions are previewed,
// then a human approves or denies each one, and only approved actions
// execute. Every terminal transition writes exactly one audit entry.
// Nothing in this package mutates the host; that is the executors' job,
// reached only through the router.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/registry"
)

// Executor routes and performs actions; satisfied by the router.
type Executor interface {
	Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error)
	Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, string, error)
}

// ContextProvider supplies a best-effort inline selection snapshot;
// satisfied by the inline observer. A nil provider disables enrichment.
type ContextProvider interface {
	Snapshot() (schemas.InlineSelection, bool)
}

// managed is one action plus its lifecycle bookkeeping.
type managed struct {
	mu      sync.Mutex
	action  schemas.Action
	preview *schemas.PreviewSummary
}

// Pipeline owns every in-flight action.
type Pipeline struct {
	registry *registry.Registry
	executor Executor
	audit    schemas.AuditWriter
	inline   ContextProvider
	clock    schemas.Clock
	actor    string
	logger   *zap.Logger

	mu      sync.Mutex
	actions map[string]*managed
	order   []string
}

// New builds a Pipeline. The audit writer is mandatory: an action
// pipeline without a log is not this pipeline.
func New(reg *registry.Registry, executor Executor, audit schemas.AuditWriter, inline ContextProvider, actor string, clock schemas.Clock, logger *zap.Logger) *Pipeline {
	if clock == nil {
		clock = schemas.SystemClock{}
	}
	return &Pipeline{
		registry: reg,
		executor: executor,
		audit:    audit,
		inline:   inline,
		clock:    clock,
		actor:    actor,
		logger:   logger.Named("pipeline"),
		actions:  make(map[string]*managed),
	}
}

// Draft admits a new action. The type must be registered; params are
// validated later, at preview.
func (p *Pipeline) Draft(t schemas.ActionType, params map[string]string) (schemas.Action, error) {
	if !p.registry.Known(t) {
		return schemas.Action{}, fmt.Errorf("%w: %q", schemas.ErrUnknownAction, t)
	}
	action := schemas.NewAction(t, params)
	p.admit(action)
	return action, nil
}

// Submit admits an externally built action (e.g. from the planner),
// resetting it to Drafted.
func (p *Pipeline) Submit(action schemas.Action) (schemas.Action, error) {
	if !p.registry.Known(action.Type) {
		return schemas.Action{}, fmt.Errorf("%w: %q", schemas.ErrUnknownAction, action.Type)
	}
	if action.ID == "" {
		action = schemas.NewAction(action.Type, action.Params)
	}
	action.Status = schemas.StatusDrafted
	p.admit(action)
	return action, nil
}

func (p *Pipeline) admit(action schemas.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[action.ID] = &managed{action: action}
	p.order = append(p.order, action.ID)
}

func (p *Pipeline) get(id string) (*managed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", schemas.ErrInvalidTransition, id)
	}
	return m, nil
}

// Preview validates the action, stores the normalized params, and asks
// the routed executor to describe the mutation. Re-previewing a
// Previewed action is allowed; any other starting state is not.
func (p *Pipeline) Preview(ctx context.Context, id string) (schemas.PreviewSummary, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.action.Status != schemas.StatusDrafted && m.action.Status != schemas.StatusPreviewed {
		return schemas.PreviewSummary{}, fmt.Errorf("%w: cannot preview from %s", schemas.ErrInvalidTransition, m.action.Status)
	}

	p.enrich(&m.action)
	normalized, err := p.registry.Validate(m.action)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	candidate := m.action
	candidate.Params = normalized

	summary, err := p.executor.Preview(ctx, candidate)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	m.action.Params = normalized
	m.action.Status = schemas.StatusPreviewed
	m.preview = &summary
	return summary, nil
}

// Edit replaces the action's params. Any existing preview is
// invalidated: the user must see a fresh preview of what they will now
// approve.
func (p *Pipeline) Edit(id string, params map[string]string) (schemas.Action, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.action.Status {
	case schemas.StatusDrafted, schemas.StatusPreviewed:
	default:
		return schemas.Action{}, fmt.Errorf("%w: cannot edit from %s", schemas.ErrInvalidTransition, m.action.Status)
	}
	if params == nil {
		params = map[string]string{}
	}
	m.action.Params = params
	m.action.Status = schemas.StatusDrafted
	m.preview = nil
	return m.action, nil
}

// Approve marks a previewed action as cleared for execution. Only a
// previewed action can be approved; approval of anything the user has
// not seen described is a caller bug.
func (p *Pipeline) Approve(id string) (schemas.Action, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.action.Status != schemas.StatusPreviewed {
		return schemas.Action{}, fmt.Errorf("%w: cannot approve from %s", schemas.ErrInvalidTransition, m.action.Status)
	}
	m.action.Status = schemas.StatusApproved
	return m.action, nil
}

// Deny terminates the action without executing it. The denial is
// audited like any other terminal outcome.
func (p *Pipeline) Deny(ctx context.Context, id, reason string) (schemas.Action, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.action.Status.Terminal() {
		return schemas.Action{}, fmt.Errorf("%w: cannot deny from %s", schemas.ErrInvalidTransition, m.action.Status)
	}
	m.action.Status = schemas.StatusDenied
	p.record(ctx, m.action, "denied: "+reason, "")
	return m.action, nil
}

// Execute performs one approved action and writes its single audit
// entry. A PreviewOnly action refuses to execute.
func (p *Pipeline) Execute(ctx context.Context, id string) (schemas.ActionResult, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.action.Status != schemas.StatusApproved {
		return schemas.ActionResult{}, fmt.Errorf("%w: cannot execute from %s", schemas.ErrInvalidTransition, m.action.Status)
	}
	if m.action.PreviewOnly {
		return schemas.ActionResult{}, fmt.Errorf("%w: action is preview-only", schemas.ErrInvalidTransition)
	}

	result, executorName, execErr := p.executor.Execute(ctx, m.action)
	if execErr != nil {
		// A policy refusal is a denial, not a malfunction.
		if errors.Is(execErr, schemas.ErrPathDenied) {
			m.action.Status = schemas.StatusDenied
			p.record(ctx, m.action, "denied: "+execErr.Error(), "")
			return result, execErr
		}
		m.action.Status = schemas.StatusFailed
		p.record(ctx, m.action, "execution failed via "+executorName, execErr.Error())
		return result, execErr
	}
	m.action.Status = schemas.StatusExecuted
	summary := "executed via " + executorName
	if m.preview != nil {
		summary = fmt.Sprintf("%s: %s", summary, m.preview.Summary)
	}
	// Executor-side normalizations stay out of the recorded params, so
	// any the executor reports must surface in the audit summary.
	if result.Payload["split_normalized"] == "true" {
		summary += " (split_screen normalized to true by policy)"
	}
	p.record(ctx, m.action, summary, "")
	return result, nil
}

// SubmitPlan admits a batch of actions and previews them concurrently.
// The returned summaries follow submission order. An action the guard
// refuses is denied on the spot and the rest of the plan proceeds; any
// other preview failure fails the whole plan, because a plan the user
// cannot fully see is not presentable for approval.
func (p *Pipeline) SubmitPlan(ctx context.Context, actions []schemas.Action) ([]schemas.PreviewSummary, error) {
	ids := make([]string, len(actions))
	for i, a := range actions {
		admitted, err := p.Submit(a)
		if err != nil {
			return nil, err
		}
		ids[i] = admitted.ID
	}

	summaries := make([]schemas.PreviewSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			summary, err := p.Preview(gctx, id)
			if err == nil {
				summaries[i] = summary
				return nil
			}
			if errors.Is(err, schemas.ErrPathDenied) {
				denied, denyErr := p.Deny(gctx, id, err.Error())
				if denyErr != nil {
					return fmt.Errorf("deny of action %s: %w", id, denyErr)
				}
				summaries[i] = schemas.PreviewSummary{
					ActionID: denied.ID,
					Summary:  "denied: " + err.Error(),
				}
				return nil
			}
			return fmt.Errorf("preview of action %s: %w", id, err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// ExecuteBatch runs the given actions in submission order. Approved
// actions execute; anything else contributes a failed result. One
// failure never stops the remainder of the batch.
func (p *Pipeline) ExecuteBatch(ctx context.Context, ids []string) schemas.BatchResult {
	var batch schemas.BatchResult
	for _, id := range ids {
		m, err := p.get(id)
		if err != nil {
			batch.Results = append(batch.Results, schemas.ActionResult{ActionID: id, Error: err.Error()})
			continue
		}
		m.mu.Lock()
		status := m.action.Status
		m.mu.Unlock()

		if status != schemas.StatusApproved {
			batch.Results = append(batch.Results, schemas.ActionResult{
				ActionID: id,
				Error:    fmt.Sprintf("not executed: action is %s", status),
			})
			continue
		}
		result, err := p.Execute(ctx, id)
		if err != nil && result.Error == "" {
			result.Error = err.Error()
		}
		result.ActionID = id
		batch.Results = append(batch.Results, result)
	}
	return batch
}

// Action returns a copy of the managed action.
func (p *Pipeline) Action(id string) (schemas.Action, error) {
	m, err := p.get(id)
	if err != nil {
		return schemas.Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.action, nil
}

// Actions returns copies of every managed action in submission order.
func (p *Pipeline) Actions() []schemas.Action {
	p.mu.Lock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	p.mu.Unlock()

	out := make([]schemas.Action, 0, len(ids))
	for _, id := range ids {
		if a, err := p.Action(id); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// enrich attaches a fresh inline selection snapshot to automation
// actions that do not already carry context. Staleness filtering is the
// observer's job; a missing snapshot is never an error.
func (p *Pipeline) enrich(action *schemas.Action) {
	if p.inline == nil || action.Type != schemas.ActionUIAutomation {
		return
	}
	if _, ok := action.Params["context"]; ok {
		return
	}
	sel, ok := p.inline.Snapshot()
	if !ok {
		return
	}
	action.Params["context"] = sel.Preview
	p.logger.Debug("Attached inline context",
		zap.String("action", action.ID), zap.String("source", sel.Source))
}

// record writes the action's single audit entry. Params are recorded
// exactly as the user approved them; executor-side normalizations show
// up in result payloads, never by rewriting history here.
func (p *Pipeline) record(ctx context.Context, action schemas.Action, summary, errMsg string) {
	entry := schemas.AuditEntry{
		Timestamp:     p.clock.Now(),
		Actor:         p.actor,
		ActionID:      action.ID,
		ActionType:    action.Type,
		Params:        action.Params,
		Status:        action.Status,
		ResultSummary: summary,
		Error:         errMsg,
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.audit.Append(writeCtx, entry); err != nil {
		// An unauditable outcome is still an outcome; log loudly and
		// carry on.
		p.logger.Error("Failed to write audit entry",
			zap.String("action", action.ID), zap.Error(err))
	}
}
