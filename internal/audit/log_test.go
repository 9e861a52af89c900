// internal/audit/log_test.go
package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

func TestRedact(t *testing.T) {
	params := map[string]string{
		"path":         "notes.txt",
		"api_token":    "abc123",
		"PASSWORD":     "hunter2",
		"ssh_key_path": "~/.ssh/id_rsa",
		"content":      "plain",
	}
	out := Redact(params)

	assert.Equal(t, "notes.txt", out["path"])
	assert.Equal(t, "plain", out["content"])
	assert.Equal(t, RedactionPlaceholder, out["api_token"])
	assert.Equal(t, RedactionPlaceholder, out["PASSWORD"])
	assert.Equal(t, RedactionPlaceholder, out["ssh_key_path"])
	// Input untouched.
	assert.Equal(t, "hunter2", params["PASSWORD"])
}

func TestRedact_Nil(t *testing.T) {
	assert.Nil(t, Redact(nil))
}

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := NewLog(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

func sampleEntry(id string, status schemas.ActionStatus) schemas.AuditEntry {
	return schemas.AuditEntry{
		Timestamp:     time.Now().UTC(),
		Actor:         "test",
		ActionID:      id,
		ActionType:    schemas.ActionFSWriteFile,
		Params:        map[string]string{"path": "notes.txt", "token": "secret-value"},
		Status:        status,
		ResultSummary: "wrote file",
	}
}

func TestAppendAndRecent(t *testing.T) {
	log, path := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, sampleEntry("a1", schemas.StatusExecuted)))
	require.NoError(t, log.Append(ctx, sampleEntry("a2", schemas.StatusDenied)))
	require.NoError(t, log.Append(ctx, sampleEntry("a3", schemas.StatusFailed)))

	reader := NewReader(path, zap.NewNop())
	entries, err := reader.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a1", entries[0].ActionID)
	assert.Equal(t, "a3", entries[2].ActionID)

	// Sensitive params were redacted before serialization.
	assert.Equal(t, RedactionPlaceholder, entries[0].Params["token"])
	assert.Equal(t, "notes.txt", entries[0].Params["path"])
}

func TestRecent_Limit(t *testing.T) {
	log, path := newTestLog(t)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, log.Append(ctx, sampleEntry(id, schemas.StatusExecuted)))
	}

	entries, err := NewReader(path, zap.NewNop()).Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a3", entries[0].ActionID)
	assert.Equal(t, "a4", entries[1].ActionID)
}

func TestRecent_MissingFile(t *testing.T) {
	reader := NewReader(filepath.Join(t.TempDir(), "nope.jsonl"), zap.NewNop())
	entries, err := reader.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingMirror struct {
	mu    sync.Mutex
	calls int
}

func (f *failingMirror) Append(ctx context.Context, entry schemas.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("database unreachable")
}

func TestMirrorFailureDoesNotFailAppend(t *testing.T) {
	log, path := newTestLog(t)
	mirror := &failingMirror{}
	log.SetMirror(mirror)

	err := log.Append(context.Background(), sampleEntry("a1", schemas.StatusExecuted))
	require.NoError(t, err, "the file is the source of truth; mirror failure is non-fatal")
	assert.Equal(t, 1, mirror.calls)

	entries, err := NewReader(path, zap.NewNop()).Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
