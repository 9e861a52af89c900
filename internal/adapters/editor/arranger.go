// File: internal/adapters/editor/arranger.go
package editor

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// ExecArranger moves windows with host tooling: the document is opened
// with the desktop's default handler and split placement is applied with
// wmctrl. Callers never see which mechanism was used; a structured
// window-management API could replace the exec calls without touching
// the tracker.
type ExecArranger struct {
	opener string // e.g. xdg-open
	wmctrl string
	logger *zap.Logger
}

// NewExecArranger resolves the host tools once at construction.
func NewExecArranger(logger *zap.Logger) *ExecArranger {
	a := &ExecArranger{logger: logger.Named("arranger")}
	if p, err := exec.LookPath("xdg-open"); err == nil {
		a.opener = p
	} else if p, err := exec.LookPath("open"); err == nil {
		a.opener = p
	}
	if p, err := exec.LookPath("wmctrl"); err == nil {
		a.wmctrl = p
	}
	return a
}

// Available reports whether the host tooling needed for arrangement is
// present. Used as the editor adapter's probe.
func (a *ExecArranger) Available(ctx context.Context) error {
	if a.opener == "" {
		return fmt.Errorf("%w: no document opener on PATH", schemas.ErrAutomationUnavailable)
	}
	return nil
}

// ArrangeSingle opens the target in the default handler.
func (a *ExecArranger) ArrangeSingle(ctx context.Context, target string) error {
	if a.opener == "" {
		return fmt.Errorf("%w: no document opener on PATH", schemas.ErrAutomationUnavailable)
	}
	if err := exec.CommandContext(ctx, a.opener, target).Start(); err != nil {
		return fmt.Errorf("%w: open failed: %v", schemas.ErrExecutorTransient, err)
	}
	return nil
}

// ArrangeSplit opens the target and snaps its window to the requested
// half. Without wmctrl the open still happens; placement degrades to a
// plain open with a warning rather than failing the action.
func (a *ExecArranger) ArrangeSplit(ctx context.Context, target string, side schemas.SplitSide) error {
	if err := a.ArrangeSingle(ctx, target); err != nil {
		return err
	}
	if a.wmctrl == "" {
		a.logger.Warn("wmctrl not found; opened without split placement",
			zap.String("target", target), zap.String("side", string(side)))
		return nil
	}
	// -r :ACTIVE: targets the window the open just raised. Gravity 0
	// with x=half-width approximates a right snap; the exact geometry is
	// the window manager's problem.
	geometry := "0,0,0,-1,-1"
	if side == schemas.SplitRight {
		geometry = "0,960,0,-1,-1"
	}
	cmd := exec.CommandContext(ctx, a.wmctrl, "-r", ":ACTIVE:", "-e", geometry)
	if out, err := cmd.CombinedOutput(); err != nil {
		a.logger.Warn("Split placement failed; window left unsnapped",
			zap.String("side", string(side)), zap.ByteString("output", out), zap.Error(err))
	}
	return nil
}

var _ schemas.WindowArranger = (*ExecArranger)(nil)
