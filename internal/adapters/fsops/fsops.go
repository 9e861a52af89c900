// File: internal/adapters/fsops/fsops.go
// Description: Native adapter for direct filesystem actions. Every
// target path goes through the resource guard before any byte is
// written; previews never mutate the host.
package fsops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/guard"
)

// Adapter implements schemas.NativeAdapter for fs.create_folder and
// fs.write_file.
type Adapter struct {
	guard  *guard.Guard
	logger *zap.Logger
}

// New builds the filesystem adapter.
func New(g *guard.Guard, logger *zap.Logger) *Adapter {
	return &Adapter{guard: g, logger: logger.Named("fsops")}
}

// Name identifies the adapter in logs and audit entries.
func (a *Adapter) Name() string { return "fsops" }

// Handles reports the action types this adapter covers.
func (a *Adapter) Handles(t schemas.ActionType) bool {
	return t == schemas.ActionFSCreateFolder || t == schemas.ActionFSWriteFile
}

// Probe verifies the primary allowed root is present and writable.
func (a *Adapter) Probe(ctx context.Context) error {
	root := a.guard.PrimaryRoot()
	if root == "" {
		return fmt.Errorf("%w: no allowed roots configured", schemas.ErrAutomationUnavailable)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("primary root unavailable: %w", err)
	}
	return nil
}

// Preview describes the pending mutation without performing it.
func (a *Adapter) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	switch action.Type {
	case schemas.ActionFSCreateFolder:
		target, err := a.folderTarget(action)
		if err != nil {
			return schemas.PreviewSummary{}, err
		}
		summary := fmt.Sprintf("Create folder %q", target)
		if _, statErr := os.Stat(target); statErr == nil {
			summary = fmt.Sprintf("Folder %q already exists; no change", target)
		}
		return schemas.PreviewSummary{
			ActionID:         action.ID,
			Summary:          summary,
			TargetDescriptor: target,
			EstimatedScope:   1,
		}, nil

	case schemas.ActionFSWriteFile:
		target, err := a.fileTarget(action)
		if err != nil {
			return schemas.PreviewSummary{}, err
		}
		content := action.Params["content"]
		verb := "Create"
		if _, statErr := os.Stat(target); statErr == nil {
			verb = "Overwrite"
		}
		scope := len(content)
		summary := fmt.Sprintf("%s file %q (%d bytes)", verb, target, scope)
		if n, ok := markupElementCount(target, content); ok {
			summary = fmt.Sprintf("%s, %d markup elements", summary, n)
		}
		return schemas.PreviewSummary{
			ActionID:         action.ID,
			Summary:          summary,
			TargetDescriptor: target,
			EstimatedScope:   scope,
		}, nil

	default:
		return schemas.PreviewSummary{}, fmt.Errorf("%w: %q", schemas.ErrNoExecutor, action.Type)
	}
}

// Execute performs the mutation. Folder creation is idempotent: an
// already-existing target reports success.
func (a *Adapter) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	switch action.Type {
	case schemas.ActionFSCreateFolder:
		target, err := a.folderTarget(action)
		if err != nil {
			return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
			return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
		}
		a.logger.Info("Created folder", zap.String("path", target))
		return schemas.ActionResult{
			ActionID: action.ID,
			Success:  true,
			Payload:  map[string]string{"path": target},
		}, nil

	case schemas.ActionFSWriteFile:
		target, err := a.fileTarget(action)
		if err != nil {
			return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
			return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
		}
		content := []byte(action.Params["content"])
		if err := os.WriteFile(target, content, 0o644); err != nil {
			wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
			return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
		}
		a.logger.Info("Wrote file", zap.String("path", target), zap.Int("bytes", len(content)))
		return schemas.ActionResult{
			ActionID: action.ID,
			Success:  true,
			Payload: map[string]string{
				"path":  target,
				"bytes": fmt.Sprintf("%d", len(content)),
			},
		}, nil

	default:
		return schemas.ActionResult{ActionID: action.ID}, fmt.Errorf("%w: %q", schemas.ErrNoExecutor, action.Type)
	}
}

func (a *Adapter) folderTarget(action schemas.Action) (string, error) {
	parent := action.Params["parent"]
	name := action.Params["name"]
	if strings.ContainsAny(name, `/\`) {
		return "", &schemas.SchemaError{Type: action.Type, Field: "name", Reason: "must be a single path segment"}
	}
	return a.guard.ResolveUnderPrimary(filepath.Join(parent, name), guard.ModeWrite)
}

func (a *Adapter) fileTarget(action schemas.Action) (string, error) {
	return a.guard.ResolveUnderPrimary(action.Params["path"], guard.ModeWrite)
}

// markupElementCount parses XML-ish content (.xml, .html, .svg) and
// returns its element count for richer previews. Parse failures simply
// drop the detail; previews must never fail on bad content.
func markupElementCount(path, content string) (int, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".html", ".htm", ".svg":
	default:
		return 0, false
	}
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromString(content); err != nil {
		return 0, false
	}
	count := 0
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		count++
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	if root := doc.Root(); root != nil {
		walk(root)
	}
	return count, count > 0
}
