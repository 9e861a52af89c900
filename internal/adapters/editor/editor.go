// File: internal/adapters/editor/editor.go
// Description: Native adapter for doc.open. Opening a document is two
// concerns: launching it in the host editor, and placing the resulting
// window. Placement goes through the arrangement tracker so repeated
// opens of the same document never re-arrange an already-correct
// layout.
package editor

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/guard"
	"github.com/karavolt/deskpilot-cli/internal/windowstate"
)

// DefaultSessionKey is the arrangement session used when the action does
// not carry its own session context.
const DefaultSessionKey = "primary"

// Adapter implements schemas.NativeAdapter for doc.open.
type Adapter struct {
	tracker    *windowstate.Tracker
	guard      *guard.Guard
	logger     *zap.Logger
	sessionKey string

	// defaultSplit normalizes an explicit split_screen=false back to a
	// split layout. The assistant-driven flow always wants the document
	// beside the conversation; the normalization shows up in the result
	// payload so it is never silent.
	defaultSplit bool
}

// New builds the editor adapter.
func New(tracker *windowstate.Tracker, g *guard.Guard, defaultSplit bool, logger *zap.Logger) *Adapter {
	return &Adapter{
		tracker:      tracker,
		guard:        g,
		logger:       logger.Named("editor"),
		sessionKey:   DefaultSessionKey,
		defaultSplit: defaultSplit,
	}
}

func (a *Adapter) Name() string { return "editor" }

func (a *Adapter) Handles(t schemas.ActionType) bool {
	return t == schemas.ActionDocOpen
}

// Probe delegates to the arranger's availability check via a no-op
// state read; the tracker itself has no failure mode.
func (a *Adapter) Probe(ctx context.Context) error {
	if p, ok := a.tracker.Arranger().(interface{ Available(context.Context) error }); ok {
		return p.Available(ctx)
	}
	return nil
}

// Preview describes the open and the placement that would result.
func (a *Adapter) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	target, err := a.guard.ResolveUnderPrimary(action.Params["path"], guard.ModeRead)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	if _, err := os.Stat(target); err != nil {
		return schemas.PreviewSummary{}, fmt.Errorf("%w: document %q does not exist", schemas.ErrPathDenied, target)
	}

	split, side, normalized := a.placement(action)
	summary := fmt.Sprintf("Open %q in a single window", target)
	if split {
		summary = fmt.Sprintf("Open %q split to the %s", target, side)
	}
	if normalized {
		summary += " (split restored by policy)"
	}
	return schemas.PreviewSummary{
		ActionID:         action.ID,
		Summary:          summary,
		TargetDescriptor: target,
		EstimatedScope:   1,
	}, nil
}

// Execute opens the document through the tracker, which skips the
// OS-level arrangement entirely when the desired layout already holds.
func (a *Adapter) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	target, err := a.guard.ResolveUnderPrimary(action.Params["path"], guard.ModeRead)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}
	if _, err := os.Stat(target); err != nil {
		wrapped := fmt.Errorf("%w: document %q does not exist", schemas.ErrPathDenied, target)
		return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
	}

	split, side, normalized := a.placement(action)
	if split {
		err = a.tracker.RequestSplit(ctx, a.sessionKey, target, side)
	} else {
		err = a.tracker.RequestOpen(ctx, a.sessionKey, target)
	}
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
		return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
	}

	state := a.tracker.State(a.sessionKey)
	payload := map[string]string{
		"path":        target,
		"arrangement": string(state.State),
	}
	if normalized {
		payload["split_normalized"] = "true"
		a.logger.Info("Normalized split_screen=false to split layout", zap.String("path", target))
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true, Payload: payload}, nil
}

// Open satisfies schemas.EditorBridge for callers outside the action
// pipeline (e.g. opening a collected artifact). A nil splitSide means a
// single-window open.
func (a *Adapter) Open(ctx context.Context, path string, splitSide *schemas.SplitSide) error {
	if err := a.guard.Check(path, guard.ModeRead); err != nil {
		return err
	}
	if splitSide == nil {
		return a.tracker.RequestOpen(ctx, a.sessionKey, path)
	}
	return a.tracker.RequestSplit(ctx, a.sessionKey, path, *splitSide)
}

// placement derives the requested layout from params and applies the
// split normalization policy.
func (a *Adapter) placement(action schemas.Action) (split bool, side schemas.SplitSide, normalized bool) {
	split = true
	if v, ok := action.Params["split_screen"]; ok {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			split = parsed
		}
	}
	if !split && a.defaultSplit {
		split = true
		normalized = true
	}
	side = schemas.SplitRight
	if action.Params["side"] == string(schemas.SplitLeft) {
		side = schemas.SplitLeft
	}
	return split, side, normalized
}
