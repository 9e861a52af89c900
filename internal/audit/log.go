// File: internal/audit/log.go
// Description: Append-only audit log. The writer is the only component
// that mutates the log file; reading goes through Reader. Sensitive
// parameter values are redacted before an entry is ever serialized.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedactionPlaceholder replaces any parameter value whose key matches
// the sensitive-substring denylist.
const RedactionPlaceholder = "[REDACTED]"

// sensitiveKeySubstrings is matched case-insensitively against param
// keys. Matching by key substring rather than value shape errs toward
// over-redaction, which is the safe direction for an immutable log.
var sensitiveKeySubstrings = []string{"token", "password", "secret", "key", "credential"}

// Redact returns a copy of params with sensitive values replaced. The
// input map is never modified.
func Redact(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range sensitiveKeySubstrings {
			if strings.Contains(lower, s) {
				out[k] = RedactionPlaceholder
				redacted = true
				break
			}
		}
		if !redacted {
			out[k] = v
		}
	}
	return out
}

// Log appends entries as JSONL to a single file. It implements
// schemas.AuditWriter.
type Log struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
	// mirror, when set, receives every entry after the file write. A
	// mirror failure is logged but never fails the append: the file is
	// the source of truth.
	mirror schemas.AuditWriter
}

// NewLog opens (creating if necessary) the JSONL audit file in append
// mode.
func NewLog(path string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open audit log: %w", err)
	}
	return &Log{path: path, file: f, logger: logger.Named("audit")}, nil
}

// SetMirror attaches a secondary sink (e.g. the Postgres store).
func (l *Log) SetMirror(w schemas.AuditWriter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = w
}

// Append writes one entry. Params are redacted here so no caller can
// accidentally persist a secret.
func (l *Log) Append(ctx context.Context, entry schemas.AuditEntry) error {
	entry.Params = Redact(entry.Params)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cannot encode audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("cannot append audit entry: %w", err)
	}
	if l.mirror != nil {
		if err := l.mirror.Append(ctx, entry); err != nil {
			l.logger.Warn("Audit mirror write failed", zap.Error(err))
		}
	}
	return nil
}

// Path returns the log file location, for the reader.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
