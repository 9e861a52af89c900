// File: internal/adapters/htmlpreview/htmlpreview.go
// Description: Native adapter for ui.preview_html. A headless browser
// loads the document so previews can report real DOM facts instead of
// guessing from the markup, and execution captures a rendered snapshot
// the user can inspect before anything else touches the file.
package htmlpreview

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
	"github.com/karavolt/deskpilot-cli/internal/guard"
)

// Adapter implements schemas.NativeAdapter for ui.preview_html.
type Adapter struct {
	guard  *guard.Guard
	cfg    config.PreviewConfig
	logger *zap.Logger
}

// New builds the browser preview adapter.
func New(g *guard.Guard, cfg config.PreviewConfig, logger *zap.Logger) *Adapter {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	return &Adapter{guard: g, cfg: cfg, logger: logger.Named("htmlpreview")}
}

func (a *Adapter) Name() string { return "htmlpreview" }

func (a *Adapter) Handles(t schemas.ActionType) bool {
	return t == schemas.ActionUIPreviewHTML
}

// Probe starts and immediately discards a browser context. Expensive as
// probes go, but the router caches the result inside its freshness
// window.
func (a *Adapter) Probe(ctx context.Context) error {
	browserCtx, cancel, err := a.newBrowser(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("%w: browser failed to start: %v", schemas.ErrAutomationUnavailable, err)
	}
	return nil
}

// Preview loads the page headlessly and reports its title and DOM size.
// Nothing on the host changes.
func (a *Adapter) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	target, err := a.resolve(action)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}

	browserCtx, cancel, err := a.newBrowser(ctx)
	if err != nil {
		return schemas.PreviewSummary{}, err
	}
	defer cancel()

	var title string
	var nodeCount int
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+target),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.getElementsByTagName('*').length`, &nodeCount),
	)
	if err != nil {
		return schemas.PreviewSummary{}, fmt.Errorf("%w: page load failed: %v", schemas.ErrAutomationUnavailable, err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "(untitled)"
	}
	return schemas.PreviewSummary{
		ActionID:         action.ID,
		Summary:          fmt.Sprintf("Render %q: %d DOM elements", title, nodeCount),
		TargetDescriptor: target,
		EstimatedScope:   nodeCount,
	}, nil
}

// Execute renders the page and writes a PNG snapshot beside it. The
// snapshot is the only mutation, and it stays under the same
// guard-approved directory as the source document.
func (a *Adapter) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	target, err := a.resolve(action)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}
	snapshot := target + ".preview.png"
	if err := a.guard.Check(snapshot, guard.ModeWrite); err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}

	browserCtx, cancel, err := a.newBrowser(ctx)
	if err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}
	defer cancel()

	var buf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+target),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var captureErr error
			buf, captureErr = page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(ctx)
			return captureErr
		}),
	)
	if err != nil {
		wrapped := fmt.Errorf("%w: render failed: %v", schemas.ErrAutomationUnavailable, err)
		return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
	}
	if err := os.WriteFile(snapshot, buf, 0o644); err != nil {
		wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
		return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
	}

	a.logger.Info("Rendered HTML preview",
		zap.String("source", target), zap.String("snapshot", snapshot))
	return schemas.ActionResult{
		ActionID: action.ID,
		Success:  true,
		Payload: map[string]string{
			"path":     target,
			"snapshot": snapshot,
		},
	}, nil
}

func (a *Adapter) resolve(action schemas.Action) (string, error) {
	target, err := a.guard.ResolveUnderPrimary(action.Params["path"], guard.ModeRead)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("%w: document %q does not exist", schemas.ErrPathDenied, target)
	}
	return target, nil
}

// newBrowser builds a bounded chromedp context. The returned cancel
// tears down both the allocator and the tab.
func (a *Adapter) newBrowser(ctx context.Context) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	timeoutCtx, timeoutCancel := context.WithTimeout(browserCtx, a.cfg.LoadTimeout)
	cancel := func() {
		timeoutCancel()
		browserCancel()
		allocCancel()
	}
	return timeoutCtx, cancel, nil
}
