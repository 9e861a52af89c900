// File: internal/sandbox/executor.go
// Description: Adapts the session client to the pipeline's Executor
// contract. One action equals one full session lifecycle: boot, run,
// collect, teardown. Nothing here reuses a session across actions.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// Executor runs ui.automation objectives through the sandbox agent. It
// implements schemas.Executor.
type Executor struct {
	client       schemas.SandboxClient
	cfg          config.SandboxConfig
	allowedPaths []string
	logger       *zap.Logger
}

// NewExecutor wires the client behind the Executor contract. The
// allowed paths come from the resource guard so sandbox runs obey the
// same filesystem policy as native ones.
func NewExecutor(client schemas.SandboxClient, cfg config.SandboxConfig, allowedPaths []string, logger *zap.Logger) *Executor {
	return &Executor{
		client:       client,
		cfg:          cfg,
		allowedPaths: allowedPaths,
		logger:       logger.Named("sandbox_exec"),
	}
}

// Preview describes the run without booting anything. Sandbox previews
// are static: estimating a UI flow would itself require running it.
func (e *Executor) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	constraints := e.constraints(action)
	return schemas.PreviewSummary{
		ActionID: action.ID,
		Summary: fmt.Sprintf("Run sandboxed automation %q in image %s (budget %s, network %s)",
			action.Params["objective"], e.cfg.Image, constraints.TimeBudget, describePolicy(constraints.NetworkPolicy)),
		TargetDescriptor: action.Params["target_rel"],
		EstimatedScope:   int(constraints.TimeBudget.Seconds()),
	}, nil
}

// Execute owns the whole session lifecycle. Teardown always happens,
// and artifacts are collected best-effort even after a timeout.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	session, err := e.client.StartSession(ctx, e.cfg.Image, e.cfg.SharedFolder)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if terr := e.client.Teardown(tctx, session); terr != nil {
			e.logger.Warn("Session teardown failed", zap.String("session", session.ID), zap.Error(terr))
		}
	}()

	constraints := e.constraints(action)
	events, err := e.client.Run(ctx, session, action.Params["objective"], constraints)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}

	var lastMessage string
	var runErr error
	for ev := range events {
		switch ev.Kind {
		case EventTimeout:
			runErr = schemas.ErrRunTimeout
		case EventError:
			runErr = fmt.Errorf("%w: %s", schemas.ErrAutomationUnavailable, ev.Message)
		case EventResult:
			lastMessage = ev.Message
		default:
			e.logger.Debug("Run event",
				zap.String("session", session.ID), zap.String("message", ev.Message))
		}
	}

	// Collect whatever the run produced, including partial output after
	// a timeout.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	artifacts, collectErr := e.client.CollectArtifacts(cctx, session)
	cancel()
	if collectErr != nil {
		e.logger.Warn("Artifact collection failed",
			zap.String("session", session.ID), zap.Error(collectErr))
	}

	payload := map[string]string{
		"session":   session.ID,
		"artifacts": strconv.Itoa(len(artifacts)),
	}
	for _, a := range artifacts {
		if strings.EqualFold(a.Name, action.Params["target_rel"]) {
			payload["target_path"] = a.Path
		}
	}

	if runErr != nil {
		return schemas.ActionResult{ActionID: action.ID, Payload: payload, Error: runErr.Error()}, runErr
	}
	if lastMessage != "" {
		payload["result"] = lastMessage
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true, Payload: payload}, nil
}

// constraints derives mandatory run constraints from the action and
// configuration. There is no unconstrained path.
func (e *Executor) constraints(action schemas.Action) schemas.RunConstraints {
	budget := e.cfg.DefaultBudget
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	if v, ok := action.Params["time_budget_s"]; ok {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			budget = time.Duration(s) * time.Second
		}
	}
	return schemas.RunConstraints{
		AllowedPaths: e.allowedPaths,
		TimeBudget:   budget,
		NetworkPolicy: schemas.NetworkPolicy{
			AllowedHosts: e.cfg.AllowedHosts,
		},
	}
}

func describePolicy(p schemas.NetworkPolicy) string {
	if p.AllowAll {
		return "unrestricted"
	}
	if len(p.AllowedHosts) == 0 {
		return "disabled"
	}
	return strings.Join(p.AllowedHosts, ",")
}

var _ schemas.Executor = (*Executor)(nil)
