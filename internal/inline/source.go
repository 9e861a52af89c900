// File: internal/inline/source.go
package inline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// maxPreviewLen caps the snapshot text carried around in memory.
const maxPreviewLen = 2048

// ClipboardSource reads the X primary selection, which tracks whatever
// text the user currently has highlighted. Implements
// schemas.SelectionSource.
type ClipboardSource struct {
	tool string
	args []string
}

// NewClipboardSource resolves the host selection tool once. Returns an
// error when neither xclip nor xsel is on PATH; callers then run
// without inline enrichment.
func NewClipboardSource() (*ClipboardSource, error) {
	if p, err := exec.LookPath("xclip"); err == nil {
		return &ClipboardSource{tool: p, args: []string{"-selection", "primary", "-o"}}, nil
	}
	if p, err := exec.LookPath("xsel"); err == nil {
		return &ClipboardSource{tool: p, args: []string{"--primary", "--output"}}, nil
	}
	return nil, fmt.Errorf("no selection tool on PATH (tried xclip, xsel)")
}

// Current reads the selection. An empty selection is not an error; it
// returns a zero-length snapshot the observer discards.
func (s *ClipboardSource) Current(ctx context.Context) (schemas.InlineSelection, error) {
	out, err := exec.CommandContext(ctx, s.tool, s.args...).Output()
	if err != nil {
		return schemas.InlineSelection{}, fmt.Errorf("selection read failed: %w", err)
	}
	text := strings.TrimSpace(string(out))
	preview := text
	if len(preview) > maxPreviewLen {
		preview = preview[:maxPreviewLen]
	}
	return schemas.InlineSelection{
		Source:     "primary-selection",
		Preview:    preview,
		Length:     len(text),
		CapturedAt: time.Now(),
	}, nil
}
