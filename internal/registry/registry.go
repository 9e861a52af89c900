// File: internal/registry/registry.go
// Description: Declarative schema validation and normalization for
// requested actions. Validation is pure: it never touches host state, so
// it is safe to call repeatedly and concurrently.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// FieldKind is the accepted value shape for one schema field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindBool   FieldKind = "bool"
	KindInt    FieldKind = "int"
	KindPath   FieldKind = "path"
)

// Field declares one parameter of an action schema.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	// Default is applied during normalization when the field is absent.
	Default string
	// MaxLen truncates over-length string values instead of rejecting
	// them; zero means unbounded.
	MaxLen int
}

// Schema is the full parameter contract for one action type.
type Schema struct {
	Type   schemas.ActionType
	Fields []Field
}

// Registry maps action types to their schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[schemas.ActionType]Schema
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{schemas: make(map[schemas.ActionType]Schema)}
}

// NewWithBuiltins returns a registry pre-loaded with every action type
// the pipeline ships with.
func NewWithBuiltins() *Registry {
	r := New()
	for _, s := range builtinSchemas() {
		r.Register(s)
	}
	return r
}

// Register installs or replaces the schema for a type.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Type] = s
}

// Known reports whether a schema is registered for the type.
func (r *Registry) Known(t schemas.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[t]
	return ok
}

// Validate checks an action's params against the registered schema and
// returns the normalized params: defaults applied, strings trimmed,
// over-length values truncated. Unknown types fail with
// schemas.ErrUnknownAction; unknown or malformed fields fail with a
// *schemas.SchemaError. The input action is never modified.
func (r *Registry) Validate(action schemas.Action) (map[string]string, error) {
	r.mu.RLock()
	schema, ok := r.schemas[action.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", schemas.ErrUnknownAction, action.Type)
	}

	declared := make(map[string]Field, len(schema.Fields))
	for _, f := range schema.Fields {
		declared[f.Name] = f
	}

	// Reject keys the schema does not declare. A planner emitting stray
	// params is a caller input error, not something to pass through.
	for key := range action.Params {
		if _, ok := declared[key]; !ok {
			return nil, &schemas.SchemaError{Type: action.Type, Field: key, Reason: "is not declared by the schema"}
		}
	}

	normalized := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, present := action.Params[f.Name]
		value := strings.TrimSpace(raw)
		if !present || value == "" {
			if f.Required {
				return nil, &schemas.SchemaError{Type: action.Type, Field: f.Name, Reason: "is required"}
			}
			if f.Default == "" {
				continue
			}
			value = f.Default
		}
		if err := checkKind(action.Type, f, value); err != nil {
			return nil, err
		}
		if f.MaxLen > 0 && len(value) > f.MaxLen {
			value = value[:f.MaxLen]
		}
		normalized[f.Name] = value
	}
	return normalized, nil
}

func checkKind(t schemas.ActionType, f Field, value string) error {
	switch f.Kind {
	case KindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return &schemas.SchemaError{Type: t, Field: f.Name, Reason: fmt.Sprintf("must be a boolean, got %q", value)}
		}
	case KindInt:
		if _, err := strconv.Atoi(value); err != nil {
			return &schemas.SchemaError{Type: t, Field: f.Name, Reason: fmt.Sprintf("must be an integer, got %q", value)}
		}
	case KindPath:
		if strings.ContainsRune(value, '\x00') {
			return &schemas.SchemaError{Type: t, Field: f.Name, Reason: "contains a NUL byte"}
		}
	case KindString:
		// Any trimmed string is acceptable.
	}
	return nil
}

// maxContentLen clamps generated file content, matching the planner's
// own output cap.
const maxContentLen = 200_000

func builtinSchemas() []Schema {
	return []Schema{
		{
			Type: schemas.ActionFSCreateFolder,
			Fields: []Field{
				{Name: "parent", Kind: KindPath, Required: true},
				{Name: "name", Kind: KindString, Required: true, MaxLen: 255},
			},
		},
		{
			Type: schemas.ActionFSWriteFile,
			Fields: []Field{
				{Name: "path", Kind: KindPath, Required: true},
				{Name: "content", Kind: KindString, MaxLen: maxContentLen},
				{Name: "encoding", Kind: KindString, Default: "utf-8"},
			},
		},
		{
			Type: schemas.ActionDocCreate,
			Fields: []Field{
				{Name: "format", Kind: KindString, Default: "docx"},
				{Name: "title", Kind: KindString, Required: true, MaxLen: 255},
				{Name: "content", Kind: KindString, MaxLen: maxContentLen},
			},
		},
		{
			Type: schemas.ActionDocOpen,
			Fields: []Field{
				{Name: "path", Kind: KindPath, Required: true},
				{Name: "split_screen", Kind: KindBool, Default: "true"},
				{Name: "side", Kind: KindString, Default: "right"},
			},
		},
		{
			Type: schemas.ActionUIPreviewHTML,
			Fields: []Field{
				{Name: "path", Kind: KindPath, Required: true},
			},
		},
		{
			Type: schemas.ActionUIAutomation,
			Fields: []Field{
				{Name: "objective", Kind: KindString, Required: true, MaxLen: 4096},
				{Name: "target_rel", Kind: KindPath, Required: true},
				{Name: "time_budget_s", Kind: KindInt, Default: "120"},
				{Name: "context", Kind: KindString, MaxLen: 4096},
			},
		},
	}
}
