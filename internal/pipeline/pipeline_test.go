// internal/pipeline/pipeline_test.go
package pipeline

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
	"github.com/karavolt/deskpilot-cli/internal/registry"
)

// -- Mock Implementations for Testing --

type mockExecutor struct {
	mu          sync.Mutex
	execCalls   int
	execErr     error
	execPayload map[string]string
	previewErr  error
	denyPaths   map[string]bool // path params whose preview the guard refuses
}

func (m *mockExecutor) Preview(ctx context.Context, action schemas.Action) (schemas.PreviewSummary, error) {
	if m.previewErr != nil {
		return schemas.PreviewSummary{}, m.previewErr
	}
	if m.denyPaths[action.Params["path"]] {
		return schemas.PreviewSummary{}, fmt.Errorf("%w: %q is outside the allowed roots", schemas.ErrPathDenied, action.Params["path"])
	}
	return schemas.PreviewSummary{
		ActionID: action.ID,
		Summary:  "would do the thing",
	}, nil
}

func (m *mockExecutor) Execute(ctx context.Context, action schemas.Action) (schemas.ActionResult, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalls++
	if m.execErr != nil {
		return schemas.ActionResult{ActionID: action.ID, Error: m.execErr.Error()}, "fsops", m.execErr
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true, Payload: m.execPayload}, "fsops", nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []schemas.AuditEntry
}

func (r *recordingAudit) Append(ctx context.Context, entry schemas.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) byAction(id string) []schemas.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.AuditEntry
	for _, e := range r.entries {
		if e.ActionID == id {
			out = append(out, e)
		}
	}
	return out
}

type staticSelection struct {
	sel  schemas.InlineSelection
	have bool
}

func (s *staticSelection) Snapshot() (schemas.InlineSelection, bool) { return s.sel, s.have }

func newTestPipeline(t *testing.T, exec *mockExecutor, aud *recordingAudit) *Pipeline {
	t.Helper()
	return New(registry.NewWithBuiltins(), exec, aud, nil, "tester", nil, zap.NewNop())
}

func writeFileParams() map[string]string {
	return map[string]string{"path": "notes.txt", "content": "hello"}
}

func TestLifecycle_DraftPreviewApproveExecute(t *testing.T) {
	exec := &mockExecutor{}
	aud := &recordingAudit{}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDrafted, action.Status)

	summary, err := p.Preview(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, action.ID, summary.ActionID)

	_, err = p.Approve(action.ID)
	require.NoError(t, err)

	result, err := p.Execute(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	final, err := p.Action(action.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusExecuted, final.Status)

	entries := aud.byAction(action.ID)
	require.Len(t, entries, 1, "exactly one audit entry per executed action")
	assert.Equal(t, schemas.StatusExecuted, entries[0].Status)
	assert.Equal(t, "tester", entries[0].Actor)
}

func TestDraft_UnknownType(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	_, err := p.Draft("fs.format_disk", nil)
	assert.ErrorIs(t, err, schemas.ErrUnknownAction)
}

func TestExecute_WithoutApprovalRefused(t *testing.T) {
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, &recordingAudit{})
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)

	_, err = p.Execute(ctx, action.ID)
	assert.ErrorIs(t, err, schemas.ErrInvalidTransition)
	assert.Equal(t, 0, exec.execCalls, "nothing executes without approval")
}

func TestApprove_WithoutPreviewRefused(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)

	_, err = p.Approve(action.ID)
	assert.ErrorIs(t, err, schemas.ErrInvalidTransition)
}

func TestEdit_InvalidatesPreview(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)

	edited, err := p.Edit(action.ID, map[string]string{"path": "other.txt", "content": "new"})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDrafted, edited.Status)

	// The stale preview no longer authorizes approval.
	_, err = p.Approve(action.ID)
	assert.ErrorIs(t, err, schemas.ErrInvalidTransition)

	// After a fresh preview the new params flow through.
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)
	_, err = p.Approve(action.ID)
	assert.NoError(t, err)
}

func TestDeny_WritesSingleAuditEntry(t *testing.T) {
	aud := &recordingAudit{}
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)

	denied, err := p.Deny(ctx, action.ID, "looks wrong")
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDenied, denied.Status)

	entries := aud.byAction(action.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, schemas.StatusDenied, entries[0].Status)
	assert.Contains(t, entries[0].ResultSummary, "looks wrong")

	// Terminal: no further transitions.
	_, err = p.Execute(ctx, action.ID)
	assert.ErrorIs(t, err, schemas.ErrInvalidTransition)
	assert.Equal(t, 0, exec.execCalls)
}

func TestExecute_FailureAudited(t *testing.T) {
	aud := &recordingAudit{}
	exec := &mockExecutor{execErr: errors.New("disk full")}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)
	_, err = p.Approve(action.ID)
	require.NoError(t, err)

	_, err = p.Execute(ctx, action.ID)
	require.Error(t, err)

	final, _ := p.Action(action.ID)
	assert.Equal(t, schemas.StatusFailed, final.Status)

	entries := aud.byAction(action.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, schemas.StatusFailed, entries[0].Status)
	assert.Equal(t, "disk full", entries[0].Error)
}

func TestPreviewOnly_RefusesExecution(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	ctx := context.Background()

	action := schemas.NewAction(schemas.ActionFSWriteFile, writeFileParams())
	action.PreviewOnly = true
	admitted, err := p.Submit(action)
	require.NoError(t, err)

	_, err = p.Preview(ctx, admitted.ID)
	require.NoError(t, err)
	_, err = p.Approve(admitted.ID)
	require.NoError(t, err)

	_, err = p.Execute(ctx, admitted.ID)
	assert.ErrorIs(t, err, schemas.ErrInvalidTransition)
}

func TestSubmitPlan_PreviewsAllInOrder(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	ctx := context.Background()

	actions := []schemas.Action{
		schemas.NewAction(schemas.ActionFSCreateFolder, map[string]string{"parent": "out", "name": "reports"}),
		schemas.NewAction(schemas.ActionFSWriteFile, writeFileParams()),
	}
	summaries, err := p.SubmitPlan(ctx, actions)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, actions[0].ID, summaries[0].ActionID)
	assert.Equal(t, actions[1].ID, summaries[1].ActionID)
}

func TestSubmitPlan_OneInvalidActionRejectsPlan(t *testing.T) {
	p := newTestPipeline(t, &mockExecutor{}, &recordingAudit{})
	actions := []schemas.Action{
		schemas.NewAction(schemas.ActionFSWriteFile, writeFileParams()),
		schemas.NewAction(schemas.ActionFSCreateFolder, map[string]string{"parent": "out"}), // missing name
	}
	_, err := p.SubmitPlan(context.Background(), actions)
	assert.ErrorIs(t, err, schemas.ErrSchema)
}

func TestSubmitPlan_GuardDeniedActionDoesNotSinkThePlan(t *testing.T) {
	aud := &recordingAudit{}
	exec := &mockExecutor{denyPaths: map[string]bool{"../../etc/crontab": true}}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	actions := []schemas.Action{
		schemas.NewAction(schemas.ActionFSWriteFile, map[string]string{"path": "../../etc/crontab", "content": "x"}),
		schemas.NewAction(schemas.ActionFSWriteFile, writeFileParams()),
	}
	summaries, err := p.SubmitPlan(ctx, actions)
	require.NoError(t, err, "a policy denial never rejects the rest of the plan")
	require.Len(t, summaries, 2)
	assert.Contains(t, summaries[0].Summary, "denied")
	assert.Equal(t, "would do the thing", summaries[1].Summary)

	denied, err := p.Action(actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusDenied, denied.Status)
	entries := aud.byAction(actions[0].ID)
	require.Len(t, entries, 1)
	assert.Equal(t, schemas.StatusDenied, entries[0].Status)

	// The surviving action still walks the normal gate.
	_, err = p.Approve(actions[1].ID)
	require.NoError(t, err)
	result, err := p.Execute(ctx, actions[1].ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecute_PathDenialIsDeniedNotFailed(t *testing.T) {
	aud := &recordingAudit{}
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)
	_, err = p.Approve(action.ID)
	require.NoError(t, err)

	// The guard can still refuse at execution time, e.g. a symlink swap
	// after preview.
	exec.execErr = fmt.Errorf("%w: symlink escapes the root", schemas.ErrPathDenied)
	_, err = p.Execute(ctx, action.ID)
	assert.ErrorIs(t, err, schemas.ErrPathDenied)

	final, _ := p.Action(action.ID)
	assert.Equal(t, schemas.StatusDenied, final.Status)

	entries := aud.byAction(action.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, schemas.StatusDenied, entries[0].Status)
	assert.Contains(t, entries[0].ResultSummary, "denied")
}

func TestExecuteBatch_DeniedAndApprovedMix(t *testing.T) {
	aud := &recordingAudit{}
	exec := &mockExecutor{}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	actions := []schemas.Action{
		schemas.NewAction(schemas.ActionFSWriteFile, writeFileParams()),
		schemas.NewAction(schemas.ActionFSWriteFile, map[string]string{"path": "two.txt", "content": "b"}),
		schemas.NewAction(schemas.ActionFSWriteFile, map[string]string{"path": "three.txt", "content": "c"}),
	}
	_, err := p.SubmitPlan(ctx, actions)
	require.NoError(t, err)

	ids := []string{actions[0].ID, actions[1].ID, actions[2].ID}
	_, err = p.Approve(ids[0])
	require.NoError(t, err)
	_, err = p.Deny(ctx, ids[1], "not this one")
	require.NoError(t, err)
	_, err = p.Approve(ids[2])
	require.NoError(t, err)

	batch := p.ExecuteBatch(ctx, ids)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, 2, batch.Succeeded())
	assert.True(t, batch.Results[0].Success)
	assert.False(t, batch.Results[1].Success)
	assert.True(t, batch.Results[2].Success, "a denied action never stops the rest of the batch")
	assert.Equal(t, 2, exec.execCalls)

	// Three terminal outcomes, three audit entries, one each.
	for _, id := range ids {
		assert.Len(t, aud.byAction(id), 1)
	}
}

func TestInlineContext_AttachedToAutomationActions(t *testing.T) {
	exec := &mockExecutor{}
	inline := &staticSelection{
		sel:  schemas.InlineSelection{Source: "primary-selection", Preview: "selected text", Length: 13, CapturedAt: time.Now()},
		have: true,
	}
	p := New(registry.NewWithBuiltins(), exec, &recordingAudit{}, inline, "tester", nil, zap.NewNop())
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionUIAutomation, map[string]string{
		"objective":  "summarize the selection",
		"target_rel": "summary.txt",
	})
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)

	previewed, err := p.Action(action.ID)
	require.NoError(t, err)
	assert.Equal(t, "selected text", previewed.Params["context"])
}

func TestInlineContext_NotAttachedToFilesystemActions(t *testing.T) {
	inline := &staticSelection{
		sel:  schemas.InlineSelection{Preview: "selected text", Length: 13},
		have: true,
	}
	p := New(registry.NewWithBuiltins(), &mockExecutor{}, &recordingAudit{}, inline, "tester", nil, zap.NewNop())
	ctx := context.Background()

	action, err := p.Draft(schemas.ActionFSWriteFile, writeFileParams())
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)

	previewed, _ := p.Action(action.ID)
	_, has := previewed.Params["context"]
	assert.False(t, has)
}

func TestExecute_NormalizationSurfacesInAuditNotParams(t *testing.T) {
	exec := &mockExecutor{execPayload: map[string]string{"split_normalized": "true"}}
	aud := &recordingAudit{}
	p := newTestPipeline(t, exec, aud)
	ctx := context.Background()

	params := map[string]string{"path": "report.docx", "split_screen": "false"}
	action, err := p.Draft(schemas.ActionDocOpen, params)
	require.NoError(t, err)
	_, err = p.Preview(ctx, action.ID)
	require.NoError(t, err)
	_, err = p.Approve(action.ID)
	require.NoError(t, err)
	_, err = p.Execute(ctx, action.ID)
	require.NoError(t, err)

	entries := aud.byAction(action.ID)
	require.Len(t, entries, 1)
	// The recorded params stay exactly as approved; the policy override
	// is visible in the summary instead.
	assert.Equal(t, "false", entries[0].Params["split_screen"])
	assert.Contains(t, entries[0].ResultSummary, "split_screen normalized to true by policy")
}
