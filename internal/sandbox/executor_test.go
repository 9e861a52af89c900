// internal/sandbox/executor_test.go
package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// fakeSandboxClient scripts a session lifecycle without any HTTP.
type fakeSandboxClient struct {
	mu        sync.Mutex
	startErr  error
	runErr    error
	events    []schemas.RunEvent
	artifacts []schemas.Artifact
	teardowns int
	lastRun   schemas.RunConstraints
}

func (f *fakeSandboxClient) StartSession(ctx context.Context, image, sharedFolder string) (*schemas.AutomationSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &schemas.AutomationSession{ID: "sess-fake", Image: image, Status: schemas.SessionRunning}, nil
}

func (f *fakeSandboxClient) PushArtifacts(ctx context.Context, session *schemas.AutomationSession, files map[string][]byte) error {
	return nil
}

func (f *fakeSandboxClient) Run(ctx context.Context, session *schemas.AutomationSession, objective string, constraints schemas.RunConstraints) (<-chan schemas.RunEvent, error) {
	f.mu.Lock()
	f.lastRun = constraints
	f.mu.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	out := make(chan schemas.RunEvent, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (f *fakeSandboxClient) CollectArtifacts(ctx context.Context, session *schemas.AutomationSession) ([]schemas.Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeSandboxClient) Teardown(ctx context.Context, session *schemas.AutomationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

func automationAction(params map[string]string) schemas.Action {
	if params == nil {
		params = map[string]string{}
	}
	if _, ok := params["objective"]; !ok {
		params["objective"] = "export the spreadsheet"
	}
	return schemas.NewAction(schemas.ActionUIAutomation, params)
}

func newTestExecutor(client schemas.SandboxClient) *Executor {
	return NewExecutor(client, config.SandboxConfig{
		Image:         "desktop-agent:test",
		DefaultBudget: 90 * time.Second,
		AllowedHosts:  []string{"intranet.example.com"},
	}, []string{"/home/user/deskpilot"}, zap.NewNop())
}

func TestExecutorExecute_Success(t *testing.T) {
	client := &fakeSandboxClient{
		events: []schemas.RunEvent{
			{Kind: EventLog, Message: "clicking export"},
			{Kind: EventResult, Message: "export complete"},
		},
		artifacts: []schemas.Artifact{
			{Name: "export.xlsx", Path: "/tmp/artifacts/sess-fake/export.xlsx", Size: 10},
		},
	}
	e := newTestExecutor(client)

	action := automationAction(map[string]string{"target_rel": "export.xlsx"})
	result, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "export complete", result.Payload["result"])
	assert.Equal(t, "1", result.Payload["artifacts"])
	assert.Equal(t, "/tmp/artifacts/sess-fake/export.xlsx", result.Payload["target_path"])
	assert.Equal(t, 1, client.teardowns, "the session is always torn down")
}

func TestExecutorExecute_TimeoutStillCollectsArtifacts(t *testing.T) {
	client := &fakeSandboxClient{
		events:    []schemas.RunEvent{{Kind: EventTimeout, Message: "budget exceeded"}},
		artifacts: []schemas.Artifact{{Name: "partial.txt", Path: "/tmp/a/partial.txt"}},
	}
	e := newTestExecutor(client)

	result, err := e.Execute(context.Background(), automationAction(nil))
	assert.ErrorIs(t, err, schemas.ErrRunTimeout)
	assert.False(t, result.Success)
	assert.Equal(t, "1", result.Payload["artifacts"], "partial output survives the timeout")
	assert.Equal(t, 1, client.teardowns)
}

func TestExecutorExecute_ErrorEvent(t *testing.T) {
	client := &fakeSandboxClient{
		events: []schemas.RunEvent{{Kind: EventError, Message: "agent crashed"}},
	}
	e := newTestExecutor(client)

	_, err := e.Execute(context.Background(), automationAction(nil))
	assert.ErrorIs(t, err, schemas.ErrAutomationUnavailable)
	assert.Equal(t, 1, client.teardowns)
}

func TestExecutorExecute_StartFailure(t *testing.T) {
	client := &fakeSandboxClient{startErr: errors.New("agent unreachable")}
	e := newTestExecutor(client)

	_, err := e.Execute(context.Background(), automationAction(nil))
	assert.Error(t, err)
	assert.Equal(t, 0, client.teardowns, "no session to tear down")
}

func TestExecutorConstraints_AlwaysBounded(t *testing.T) {
	client := &fakeSandboxClient{events: []schemas.RunEvent{{Kind: EventResult, Message: "ok"}}}
	e := newTestExecutor(client)

	_, err := e.Execute(context.Background(), automationAction(map[string]string{"time_budget_s": "30"}))
	require.NoError(t, err)

	client.mu.Lock()
	got := client.lastRun
	client.mu.Unlock()
	assert.Equal(t, 30*time.Second, got.TimeBudget)
	assert.Equal(t, []string{"/home/user/deskpilot"}, got.AllowedPaths)
	assert.Equal(t, []string{"intranet.example.com"}, got.NetworkPolicy.AllowedHosts)
}

func TestExecutorPreview_NeverBootsASession(t *testing.T) {
	client := &fakeSandboxClient{}
	e := newTestExecutor(client)

	summary, err := e.Preview(context.Background(), automationAction(map[string]string{"target_rel": "out.txt"}))
	require.NoError(t, err)
	assert.Contains(t, summary.Summary, "export the spreadsheet")
	assert.Contains(t, summary.Summary, "intranet.example.com")
	assert.Equal(t, "out.txt", summary.TargetDescriptor)
	assert.Equal(t, 0, client.teardowns)
}
