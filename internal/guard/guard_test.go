// internal/guard/guard_test.go
package guard

import (
	"os"
	"path/filepath"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

func newTestGuard(t *testing.T, allowed, denied []string) *Guard {
	t.Helper()
	g, err := New(config.GuardConfig{AllowedRoots: allowed, DeniedRoots: denied}, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestCheck_AllowsPathUnderRoot(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, []string{root}, nil)

	assert.NoError(t, g.Check(filepath.Join(root, "reports", "q3.txt"), ModeWrite))
}

func TestCheck_DeniesOutsideAllowlist(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	g := newTestGuard(t, []string{root}, nil)

	err := g.Check(filepath.Join(other, "file.txt"), ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestCheck_DenylistWinsInsideAllowedRoot(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(root, "secrets")
	require.NoError(t, os.MkdirAll(secret, 0o755))
	g := newTestGuard(t, []string{root}, []string{secret})

	assert.NoError(t, g.Check(filepath.Join(root, "open.txt"), ModeWrite))
	err := g.Check(filepath.Join(secret, "key.pem"), ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestCheck_TraversalCannotEscape(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, []string{root}, nil)

	err := g.Check(filepath.Join(root, "..", "..", "etc", "passwd"), ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestCheck_SymlinkResolvedBeforeJudging(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))
	g := newTestGuard(t, []string{root}, nil)

	// The path looks like it is under root, but the symlink lands it
	// outside; the guard must judge the real location.
	err := g.Check(filepath.Join(link, "file.txt"), ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestCheck_NotYetCreatedTarget(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, []string{root}, nil)

	// Several nonexistent segments deep; resolution walks up to the
	// deepest existing ancestor.
	assert.NoError(t, g.Check(filepath.Join(root, "a", "b", "c.txt"), ModeWrite))
}

func TestCheck_EmptyAllowlistDeniesEverything(t *testing.T) {
	g := newTestGuard(t, nil, nil)
	err := g.Check(t.TempDir(), ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestResolveUnderPrimary(t *testing.T) {
	root := t.TempDir()
	g := newTestGuard(t, []string{root}, nil)

	resolved, err := g.ResolveUnderPrimary("reports/q3.txt", ModeWrite)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
	assert.Contains(t, resolved, "reports")

	// Relative escape attempts are rebased then rejected.
	_, err = g.ResolveUnderPrimary("../elsewhere.txt", ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

func TestCheck_EmptyPath(t *testing.T) {
	g := newTestGuard(t, []string{t.TempDir()}, nil)
	err := g.Check("   ", ModeWrite)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
}

// FuzzCheck throws arbitrary candidate paths at the guard. Whatever the
// input, Check must not panic, and anything it admits must genuinely
// resolve under the allowed root and outside the denylist.
func FuzzCheck(f *testing.F) {
	f.Add([]byte("reports/q3.txt"))
	f.Add([]byte("../../etc/passwd"))
	f.Add([]byte("~/deskpilot/a"))
	f.Add([]byte("/etc/shadow"))
	f.Add([]byte("a/../../b\x00c"))

	f.Fuzz(func(t *testing.T, data []byte) {
		fc := fuzz.NewConsumer(data)
		candidate, err := fc.GetString()
		if err != nil {
			return
		}

		root := t.TempDir()
		g, err := New(config.GuardConfig{
			AllowedRoots: []string{root},
			DeniedRoots:  []string{"/etc"},
		}, zap.NewNop())
		require.NoError(t, err)

		if checkErr := g.Check(candidate, ModeWrite); checkErr != nil {
			assert.ErrorIs(t, checkErr, schemas.ErrPathDenied)
			return
		}
		resolved, err := g.Resolve(candidate)
		require.NoError(t, err)
		assert.True(t, within(resolved, root), "admitted path %q resolved to %q outside the root", candidate, resolved)
		assert.False(t, within(resolved, "/etc"))
	})
}
