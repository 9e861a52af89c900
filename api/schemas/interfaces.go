package schemas

import (
	"context"
	"time"
)

// -- Executor Interfaces --

// Executor performs a validated, approved action against the host. Both
// native adapters and the sandboxed client satisfy this; the pipeline
// never knows which it got.
type Executor interface {
	// Preview returns a dry-run description of the action without
	// performing it. It must not mutate host state.
	Preview(ctx context.Context, action Action) (PreviewSummary, error)
	// Execute performs the action. Transient device errors are reported
	// as ErrExecutorTransient so the router can apply its retry policy.
	Execute(ctx context.Context, action Action) (ActionResult, error)
}

// NativeAdapter is a direct, structured driver for one target
// application or OS facility. Whether a layout change happens through a
// structured OS call or emulated input is hidden below this boundary.
type NativeAdapter interface {
	Executor
	// Name identifies the adapter in logs and audit entries.
	Name() string
	// Handles reports whether this adapter covers the given action type.
	Handles(t ActionType) bool
	// Probe performs a cheap health check. A failed probe marks the
	// adapter unhealthy until a later probe succeeds.
	Probe(ctx context.Context) error
}

// SandboxClient manages remote, VM-isolated automation sessions for UI
// flows no native adapter covers.
type SandboxClient interface {
	// StartSession boots an agent session from an image descriptor with a
	// host folder shared into the sandbox.
	StartSession(ctx context.Context, image string, sharedFolder string) (*AutomationSession, error)
	// PushArtifacts seeds files into the session before a run.
	PushArtifacts(ctx context.Context, session *AutomationSession, files map[string][]byte) error
	// Run executes an objective under mandatory constraints. Events are
	// delivered on the returned channel until the run finishes or the
	// time budget expires (ErrRunTimeout).
	Run(ctx context.Context, session *AutomationSession, objective string, constraints RunConstraints) (<-chan RunEvent, error)
	// CollectArtifacts retrieves files produced by the session, including
	// partial output after a timeout.
	CollectArtifacts(ctx context.Context, session *AutomationSession) ([]Artifact, error)
	// Teardown destroys the session. It is idempotent: tearing down a
	// session twice must not error.
	Teardown(ctx context.Context, session *AutomationSession) error
}

// -- Audit Interfaces --

// AuditWriter appends entries to the audit log. Writing and reading are
// deliberately separate interfaces; the log is never user-editable.
type AuditWriter interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// AuditReader exposes the log for reading only.
type AuditReader interface {
	// Recent returns up to limit entries, newest last.
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// -- Window State Interfaces --

// ArrangementStore persists per-session window arrangement so it
// survives process restarts.
type ArrangementStore interface {
	Load(sessionKey string) (WindowSession, bool, error)
	Save(session WindowSession) error
	Delete(sessionKey string) error
}

// WindowArranger is the OS-facing half of the window tracker: it
// actually moves windows. Implementations may use structured OS calls or
// emulated input; callers cannot tell.
type WindowArranger interface {
	ArrangeSingle(ctx context.Context, target string) error
	ArrangeSplit(ctx context.Context, target string, side SplitSide) error
}

// -- External Collaborator Contracts --
// These services are implemented elsewhere; only their contracts matter
// here.

// ContentBuilder accepts structured content blocks and returns the
// absolute path of the produced document.
type ContentBuilder interface {
	Build(ctx context.Context, format string, blocks []ContentBlock) (string, error)
}

// ContentBlock is one unit of structured document content.
type ContentBlock struct {
	Kind string `json:"kind"` // heading, paragraph, bullet, code
	Text string `json:"text"`
	Level int   `json:"level,omitempty"`
}

// EditorBridge opens a path in the host's editor, optionally requesting
// a split placement.
type EditorBridge interface {
	Open(ctx context.Context, path string, splitSide *SplitSide) error
}

// TextExtractor pulls plain text out of a document for context
// enrichment.
type TextExtractor interface {
	Extract(ctx context.Context, path string, maxChars int) (string, error)
}

// SelectionSource reads the host's current selection/clipboard state.
// The inline observer polls this off the critical path.
type SelectionSource interface {
	Current(ctx context.Context) (InlineSelection, error)
}

// LLMClient is the narrow contract to the model-inference service, used
// only by the natural-language planner.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Close() error
}

// Clock abstracts time for deterministic tests of freshness windows and
// timeouts.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
