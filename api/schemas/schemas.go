package schemas

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a requested host-side operation.
type ActionType string

const (
	ActionFSCreateFolder ActionType = "fs.create_folder"
	ActionFSWriteFile    ActionType = "fs.write_file"
	ActionDocCreate      ActionType = "doc.create"
	ActionDocOpen        ActionType = "doc.open"
	ActionUIPreviewHTML  ActionType = "ui.preview_html"
	ActionUIAutomation   ActionType = "ui.automation"
)

// ActionStatus tracks an action through the pipeline lifecycle.
type ActionStatus string

const (
	StatusDrafted   ActionStatus = "DRAFTED"
	StatusPreviewed ActionStatus = "PREVIEWED"
	StatusApproved  ActionStatus = "APPROVED"
	StatusExecuted  ActionStatus = "EXECUTED"
	StatusDenied    ActionStatus = "DENIED"
	StatusFailed    ActionStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s ActionStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusDenied || s == StatusFailed
}

// Action is a single requested host-side operation with a typed parameter set.
// The pipeline owns an Action for its lifetime; callers only hand one in.
type Action struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"type"`
	Params      map[string]string `json:"params"`
	PreviewOnly bool              `json:"preview_only"`
	Status      ActionStatus      `json:"status"`

	// FallbackEligible marks the action as re-routable to the sandboxed
	// executor after a failed native retry.
	FallbackEligible bool `json:"fallback_eligible,omitempty"`
	// SandboxOnly forces routing to the sandboxed executor regardless of
	// native adapter availability (UI-only flows).
	SandboxOnly bool `json:"sandbox_only,omitempty"`
}

// NewAction creates a Drafted action with a fresh ID.
func NewAction(t ActionType, params map[string]string) Action {
	if params == nil {
		params = map[string]string{}
	}
	return Action{
		ID:     uuid.NewString(),
		Type:   t,
		Params: params,
		Status: StatusDrafted,
	}
}

// ActionResult is the per-action outcome of an execute call.
type ActionResult struct {
	ActionID string            `json:"action_id"`
	Success  bool              `json:"success"`
	Payload  map[string]string `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// PreviewSummary describes what an action would do, without doing it.
type PreviewSummary struct {
	ActionID         string `json:"action_id"`
	Summary          string `json:"summary"`
	TargetDescriptor string `json:"target_descriptor"`
	EstimatedScope   int    `json:"estimated_scope"`
}

// BatchResult aggregates the per-action outcomes of a batch submission.
// One action failing never cancels the remainder of the batch.
type BatchResult struct {
	Results []ActionResult `json:"results"`
}

// Succeeded returns the count of successful actions in the batch.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// AuditEntry is an append-only record of one action attempt. Entries are
// never mutated after being written.
type AuditEntry struct {
	Timestamp     time.Time         `json:"timestamp"`
	Actor         string            `json:"actor"`
	ActionID      string            `json:"action_id"`
	ActionType    ActionType        `json:"action_type"`
	Params        map[string]string `json:"params"`
	Status        ActionStatus      `json:"status"`
	ResultSummary string            `json:"result_summary"`
	Error         string            `json:"error,omitempty"`
}

// ArrangementState is the tracked window layout for one logical session.
type ArrangementState string

const (
	ArrangementUnknown    ArrangementState = "UNKNOWN"
	ArrangementSingle     ArrangementState = "SINGLE"
	ArrangementSplitLeft  ArrangementState = "SPLIT_LEFT"
	ArrangementSplitRight ArrangementState = "SPLIT_RIGHT"
)

// SplitSide selects the half of the screen a split targets.
type SplitSide string

const (
	SplitLeft  SplitSide = "left"
	SplitRight SplitSide = "right"
)

// WindowSession is the persisted arrangement record for one logical
// session (one chat/work context), keyed by session key.
type WindowSession struct {
	SessionKey    string           `json:"session_key"`
	State         ArrangementState `json:"state"`
	WindowTarget  string           `json:"window_target,omitempty"`
	LastAppliedAt time.Time        `json:"last_applied_at"`
}

// SessionStatus is the lifecycle state of a sandboxed automation session.
type SessionStatus string

const (
	SessionStarting   SessionStatus = "STARTING"
	SessionRunning    SessionStatus = "RUNNING"
	SessionTerminated SessionStatus = "TERMINATED"
	SessionFailed     SessionStatus = "FAILED"
)

// RunConstraints bound a sandboxed run. Constraints are mandatory: no
// session executes with unrestricted filesystem or network access.
type RunConstraints struct {
	AllowedPaths  []string      `json:"allowed_paths"`
	TimeBudget    time.Duration `json:"time_budget"`
	NetworkPolicy NetworkPolicy `json:"network_policy"`
}

// NetworkPolicy restricts sandbox egress to an explicit host allowlist.
// An empty allowlist with AllowAll false means no network at all.
type NetworkPolicy struct {
	AllowAll     bool     `json:"allow_all"`
	AllowedHosts []string `json:"allowed_hosts,omitempty"`
}

// AutomationSession is owned exclusively by the sandboxed automation
// client. A Terminated session is never reused.
type AutomationSession struct {
	ID        string        `json:"id"`
	Image     string        `json:"image"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	TimeoutAt time.Time     `json:"timeout_at"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
}

// Artifact is a file produced inside a sandboxed session.
type Artifact struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path,omitempty"`
}

// RunEvent is one line of the sandboxed run's event stream.
type RunEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// InlineSelection is a best-effort snapshot of the host's current text
// selection, captured by the background observer. A stale or missing
// snapshot degrades a feature, never a request.
type InlineSelection struct {
	Source     string    `json:"source"`
	Preview    string    `json:"preview"`
	Length     int       `json:"length"`
	CapturedAt time.Time `json:"captured_at"`
}
