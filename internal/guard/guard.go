// File: internal/guard/guard.go
// Description: Filesystem policy enforcement. Every mutating path must
// resolve under an allowlisted root; a fixed denylist of sensitive
// system directories is checked first and always wins.
package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// Mode is the kind of access being requested.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// Guard holds the resolved allow and deny roots. It is immutable after
// construction and safe for concurrent use.
type Guard struct {
	allowed []string
	denied  []string
	logger  *zap.Logger
}

// New builds a Guard from configuration. Roots are expanded and cleaned;
// an empty allowlist means every write is denied.
func New(cfg config.GuardConfig, logger *zap.Logger) (*Guard, error) {
	g := &Guard{logger: logger.Named("guard")}
	for _, root := range cfg.AllowedRoots {
		resolved, err := expandRoot(root)
		if err != nil {
			return nil, err
		}
		g.allowed = append(g.allowed, resolved)
	}
	for _, root := range cfg.DeniedRoots {
		resolved, err := expandRoot(root)
		if err != nil {
			return nil, err
		}
		g.denied = append(g.denied, resolved)
	}
	return g, nil
}

func expandRoot(root string) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("cannot expand guard root %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cannot absolutize guard root %q: %w", root, err)
	}
	return filepath.Clean(abs), nil
}

// Check resolves the candidate path (symlinks and ".." collapsed) and
// returns schemas.ErrPathDenied unless it lands under an allowed root
// and outside every denied root. A denial guarantees no partial write:
// Check never touches the filesystem beyond resolution.
func (g *Guard) Check(path string, mode Mode) error {
	resolved, err := g.Resolve(path)
	if err != nil {
		return err
	}

	// Denylist first; it wins even when nested under an allowed root.
	for _, root := range g.denied {
		if within(resolved, root) {
			g.logger.Warn("Path denied by denylist",
				zap.String("path", resolved),
				zap.String("denied_root", root),
				zap.String("mode", string(mode)))
			return fmt.Errorf("%w: %q is under denied root %q", schemas.ErrPathDenied, path, root)
		}
	}

	for _, root := range g.allowed {
		if within(resolved, root) {
			return nil
		}
	}

	g.logger.Warn("Path outside all allowed roots",
		zap.String("path", resolved),
		zap.String("mode", string(mode)))
	return fmt.Errorf("%w: %q is outside the allowlist", schemas.ErrPathDenied, path)
}

// Resolve expands "~", absolutizes, and follows symlinks on the deepest
// existing ancestor so that not-yet-created targets are still judged by
// where they would really land.
func (g *Guard) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", schemas.ErrPathDenied)
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrPathDenied, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrPathDenied, err)
	}
	abs = filepath.Clean(abs)

	// Walk up to the deepest existing ancestor, resolve its symlinks,
	// then re-attach the non-existent suffix.
	ancestor := abs
	var suffix []string
	for {
		if _, statErr := os.Lstat(ancestor); statErr == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		suffix = append([]string{filepath.Base(ancestor)}, suffix...)
		ancestor = parent
	}
	real, err := filepath.EvalSymlinks(ancestor)
	if err != nil {
		// The ancestor exists but cannot be resolved (dangling link,
		// permission). Treat as a policy failure rather than guessing.
		return "", fmt.Errorf("%w: cannot resolve %q: %v", schemas.ErrPathDenied, path, err)
	}
	return filepath.Join(append([]string{real}, suffix...)...), nil
}

// AllowedRoots returns a copy of the allowlist, primarily for previews
// and sandbox constraint construction.
func (g *Guard) AllowedRoots() []string {
	out := make([]string, len(g.allowed))
	copy(out, g.allowed)
	return out
}

// PrimaryRoot returns the first allowed root, the default base for
// relative action paths. Empty when no roots are configured.
func (g *Guard) PrimaryRoot() string {
	if len(g.allowed) == 0 {
		return ""
	}
	return g.allowed[0]
}

// ResolveUnderPrimary joins a relative path onto the primary root (or
// checks an absolute path as-is) and verifies it against policy.
func (g *Guard) ResolveUnderPrimary(pathLike string, mode Mode) (string, error) {
	p := pathLike
	if !filepath.IsAbs(p) {
		base := g.PrimaryRoot()
		if base == "" {
			return "", fmt.Errorf("%w: no allowed roots configured", schemas.ErrPathDenied)
		}
		p = filepath.Join(base, p)
	}
	if err := g.Check(p, mode); err != nil {
		return "", err
	}
	return g.Resolve(p)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
