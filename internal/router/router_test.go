// internal/router/router_test.go
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/config"
)

// -- Mock Implementations for Testing --

type mockAdapter struct {
	mu        sync.Mutex
	name      string
	handles   schemas.ActionType
	probeErr  error
	execErrs  []error // consumed one per Execute call
	probes    int
	execCalls int
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Handles(t schemas.ActionType) bool { return t == m.handles }

func (m *mockAdapter) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	return m.probeErr
}

func (m *mockAdapter) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	return schemas.PreviewSummary{ActionID: action.ID, Summary: "native preview"}, nil
}

func (m *mockAdapter) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalls++
	if len(m.execErrs) > 0 {
		err := m.execErrs[0]
		m.execErrs = m.execErrs[1:]
		if err != nil {
			return schemas.ActionResult{ActionID: action.ID, Error: err.Error()}, err
		}
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true}, nil
}

type mockSandbox struct {
	mu        sync.Mutex
	execCalls int
	execErr   error
}

func (m *mockSandbox) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	return schemas.PreviewSummary{ActionID: action.ID, Summary: "sandbox preview"}, nil
}

func (m *mockSandbox) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalls++
	if m.execErr != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: m.execErr.Error()}, m.execErr
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() config.RouterConfig {
	return config.RouterConfig{
		ProbeFreshness: 30 * time.Second,
		ProbeInterval:  time.Millisecond,
	}
}

func TestExecute_RoutesToHealthyNative(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	result, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "fsops", name)
	assert.Equal(t, 0, sandbox.execCalls)
}

func TestExecute_UnhealthyNativeFallsBackToSandbox(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile, probeErr: errors.New("down")}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	action.FallbackEligible = true

	result, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sandbox", name)
	assert.Equal(t, 0, adapter.execCalls)
}

func TestExecute_UnhealthyNativeWithoutFallbackFails(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile, probeErr: errors.New("down")}
	r := New([]schemas.NativeAdapter{adapter}, &mockSandbox{}, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	_, _, err := r.Execute(context.Background(), action)
	assert.ErrorIs(t, err, schemas.ErrNoExecutor)
}

func TestExecute_UncoveredTypeRoutesToSandbox(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	// An automation action straight from user input carries no routing
	// flags; the sandbox still has to pick it up.
	action := schemas.NewAction(schemas.ActionUIAutomation, map[string]string{"objective": "rename the open tab"})
	result, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sandbox", name)
	assert.Equal(t, 1, sandbox.execCalls)
	assert.Equal(t, 0, adapter.execCalls)
}

func TestExecute_TransientFailureRetriedExactlyOnce(t *testing.T) {
	transient := fmt.Errorf("%w: device busy", schemas.ErrExecutorTransient)
	adapter := &mockAdapter{
		name:     "fsops",
		handles:  schemas.ActionFSWriteFile,
		execErrs: []error{transient, nil},
	}
	r := New([]schemas.NativeAdapter{adapter}, &mockSandbox{}, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	result, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "fsops", name)
	assert.Equal(t, 2, adapter.execCalls)
}

func TestExecute_RetryExhaustedThenSandboxFallback(t *testing.T) {
	transient := fmt.Errorf("%w: device busy", schemas.ErrExecutorTransient)
	adapter := &mockAdapter{
		name:     "fsops",
		handles:  schemas.ActionFSWriteFile,
		execErrs: []error{transient, transient},
	}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	action.FallbackEligible = true

	result, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sandbox", name)
	assert.Equal(t, 2, adapter.execCalls, "exactly one retry before falling back")
	assert.Equal(t, 1, sandbox.execCalls)
}

func TestExecute_NonTransientFailureNotRetried(t *testing.T) {
	adapter := &mockAdapter{
		name:     "fsops",
		handles:  schemas.ActionFSWriteFile,
		execErrs: []error{schemas.ErrPathDenied},
	}
	r := New([]schemas.NativeAdapter{adapter}, &mockSandbox{}, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	action.FallbackEligible = true

	_, _, err := r.Execute(context.Background(), action)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)
	assert.Equal(t, 1, adapter.execCalls)
}

func TestExecute_NoExecutorForType(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile}
	r := New([]schemas.NativeAdapter{adapter}, nil, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionDocOpen, nil)
	_, _, err := r.Execute(context.Background(), action)
	assert.ErrorIs(t, err, schemas.ErrNoExecutor)
}

func TestExecute_SandboxOnlyBypassesNative(t *testing.T) {
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionUIAutomation}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), &fakeClock{now: time.Now()}, zap.NewNop())

	action := schemas.NewAction(schemas.ActionUIAutomation, nil)
	action.SandboxOnly = true

	_, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "sandbox", name)
	assert.Equal(t, 0, adapter.execCalls)
}

func TestProbeFreshness_CachedVerdictReused(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile}
	r := New([]schemas.NativeAdapter{adapter}, nil, testConfig(), clock, zap.NewNop())

	ctx := context.Background()
	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)

	_, _, err := r.Execute(ctx, action)
	require.NoError(t, err)
	_, _, err = r.Execute(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.probes, "verdict inside the freshness window is reused")

	// Aging past the freshness window forces a new probe.
	clock.advance(31 * time.Second)
	time.Sleep(2 * time.Millisecond) // let the probe limiter refill
	_, _, err = r.Execute(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.probes)
}

func TestRecoveredAdapterRoutesNativeAgain(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	adapter := &mockAdapter{name: "fsops", handles: schemas.ActionFSWriteFile, probeErr: errors.New("down")}
	sandbox := &mockSandbox{}
	r := New([]schemas.NativeAdapter{adapter}, sandbox, testConfig(), clock, zap.NewNop())

	action := schemas.NewAction(schemas.ActionFSWriteFile, nil)
	action.FallbackEligible = true

	_, name, err := r.Execute(context.Background(), action)
	require.NoError(t, err)
	require.Equal(t, "sandbox", name)

	// Adapter comes back; after the verdict ages out it is preferred again.
	adapter.mu.Lock()
	adapter.probeErr = nil
	adapter.mu.Unlock()
	clock.advance(31 * time.Second)
	time.Sleep(2 * time.Millisecond)

	_, name, err = r.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "fsops", name)
}
