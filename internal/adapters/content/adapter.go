// File: internal/adapters/content/adapter.go
package content

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/guard"
)

// Adapter is the native adapter for doc.create. It turns the action's
// markdown-ish content into blocks and delegates to the builder.
type Adapter struct {
	builder   schemas.ContentBuilder
	extractor schemas.TextExtractor
	guard     *guard.Guard
	logger    *zap.Logger
}

// NewAdapter wires a builder behind the doc.create action type.
func NewAdapter(builder schemas.ContentBuilder, g *guard.Guard, logger *zap.Logger) *Adapter {
	return &Adapter{builder: builder, extractor: NewExtractor(), guard: g, logger: logger.Named("content")}
}

func (a *Adapter) Name() string { return "content" }

func (a *Adapter) Handles(t schemas.ActionType) bool {
	return t == schemas.ActionDocCreate
}

// Probe checks the output root exists, creating it if needed.
func (a *Adapter) Probe(ctx context.Context) error {
	root := a.guard.PrimaryRoot()
	if root == "" {
		return fmt.Errorf("%w: no allowed roots configured", schemas.ErrAutomationUnavailable)
	}
	return os.MkdirAll(root, 0o755)
}

// Preview reports the document that would be produced and how much
// content it would carry.
func (a *Adapter) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	format := action.Params["format"]
	title := action.Params["title"]
	blocks := ParseBlocks(title, action.Params["content"])
	return schemas.PreviewSummary{
		ActionID:         action.ID,
		Summary:          fmt.Sprintf("Create %s document %q with %d content blocks", format, title, len(blocks)),
		TargetDescriptor: fmt.Sprintf("%s (.%s)", title, format),
		EstimatedScope:   len(blocks),
	}, nil
}

// Execute builds the document and reports its final path.
func (a *Adapter) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	format := action.Params["format"]
	blocks := ParseBlocks(action.Params["title"], action.Params["content"])
	path, err := a.builder.Build(ctx, format, blocks)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", schemas.ErrExecutorTransient, err)
		return schemas.ActionResult{ActionID: action.ID, Error: wrapped.Error()}, wrapped
	}
	// The builder writes where it was configured to; verify it stayed
	// inside policy anyway.
	if err := a.guard.Check(path, guard.ModeWrite); err != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
	}
	a.logger.Info("Created document", zap.String("path", path), zap.Int("blocks", len(blocks)))
	payload := map[string]string{"path": path}
	// A short extract of what was written rides along so follow-up
	// actions can be enriched without reopening the document.
	if snippet, err := a.extractor.Extract(ctx, path, snippetChars); err == nil && snippet != "" {
		payload["snippet"] = strings.TrimSpace(snippet)
	}
	return schemas.ActionResult{
		ActionID: action.ID,
		Success:  true,
		Payload:  payload,
	}, nil
}

// snippetChars bounds the extract attached to doc.create results.
const snippetChars = 512

// ParseBlocks converts a title plus loosely markdown-formatted text into
// content blocks. The title always becomes the leading level-1 heading.
func ParseBlocks(title, content string) []schemas.ContentBlock {
	blocks := []schemas.ContentBlock{{Kind: "heading", Text: title, Level: 1}}
	inCode := false
	var code []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			if inCode {
				blocks = append(blocks, schemas.ContentBlock{Kind: "code", Text: strings.Join(code, "\n")})
				code = nil
			}
			inCode = !inCode
		case inCode:
			code = append(code, line)
		case strings.HasPrefix(trimmed, "### "):
			blocks = append(blocks, schemas.ContentBlock{Kind: "heading", Text: trimmed[4:], Level: 3})
		case strings.HasPrefix(trimmed, "## "):
			blocks = append(blocks, schemas.ContentBlock{Kind: "heading", Text: trimmed[3:], Level: 2})
		case strings.HasPrefix(trimmed, "# "):
			blocks = append(blocks, schemas.ContentBlock{Kind: "heading", Text: trimmed[2:], Level: 1})
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			blocks = append(blocks, schemas.ContentBlock{Kind: "bullet", Text: trimmed[2:]})
		case trimmed == "":
			// blank separator
		default:
			blocks = append(blocks, schemas.ContentBlock{Kind: "paragraph", Text: trimmed})
		}
	}
	if inCode && len(code) > 0 {
		blocks = append(blocks, schemas.ContentBlock{Kind: "code", Text: strings.Join(code, "\n")})
	}
	return blocks
}
