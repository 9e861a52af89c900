package schemas

import (
	"errors"
	"fmt"
)

// Error taxonomy for the action pipeline. Callers match with errors.Is;
// each class has distinct retry and side-effect guarantees (see package
// docs on the pipeline).
var (
	// ErrUnknownAction: the action type has no registered schema. Never
	// retried, never has side effects.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrSchema: the action's params failed schema validation. Never
	// retried, never has side effects.
	ErrSchema = errors.New("schema validation failed")

	// ErrPathDenied: a path fell outside the allowlist or inside the
	// denylist. Policy violation; guarantees no partial write occurred.
	ErrPathDenied = errors.New("path denied by resource guard")

	// ErrExecutorTransient: a native adapter failed during execution in a
	// way worth exactly one retry (e.g. target application busy).
	ErrExecutorTransient = errors.New("transient executor failure")

	// ErrAutomationUnavailable: the sandboxed agent is unreachable or
	// crashed. Non-fatal; the router treats it purely as a fallback trigger.
	ErrAutomationUnavailable = errors.New("automation agent unavailable")

	// ErrRunTimeout: a sandboxed run exceeded its time budget. The session
	// is torn down; partial artifacts are still collected best-effort.
	ErrRunTimeout = errors.New("automation run exceeded time budget")

	// ErrInvalidTransition: caller misuse of the pipeline state machine.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrNoExecutor: no native adapter covers the action type and it is
	// not sandbox-eligible.
	ErrNoExecutor = errors.New("no executor for action type")

	// ErrSessionTerminated: an operation referenced a sandbox session that
	// has already been torn down. Terminated sessions are never reused.
	ErrSessionTerminated = errors.New("automation session terminated")
)

// SchemaError carries field-level detail for a validation failure. It
// unwraps to ErrSchema so callers can match the class without caring
// about the field.
type SchemaError struct {
	Type   ActionType
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: field %q %s", e.Type, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }
