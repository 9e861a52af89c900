// File: internal/audit/reader.go
package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// Reader exposes the audit log for reading through an interface
// deliberately separate from the writer; nothing here can mutate the
// log.
type Reader struct {
	path   string
	logger *zap.Logger
}

// NewReader points at an existing (or not-yet-created) JSONL audit file.
func NewReader(path string, logger *zap.Logger) *Reader {
	return &Reader{path: path, logger: logger.Named("audit_reader")}
}

// Recent returns up to limit entries, oldest first among the returned
// window. Unparseable lines are skipped rather than failing the read;
// the log may legitimately contain entries from newer versions.
func (r *Reader) Recent(ctx context.Context, limit int) ([]schemas.AuditEntry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot open audit log: %w", err)
	}
	defer f.Close()

	var entries []schemas.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var e schemas.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			r.logger.Debug("Skipping unparseable audit line", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot scan audit log: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Follow streams entries appended after the current end of the log
// until the context is cancelled.
func (r *Reader) Follow(ctx context.Context) (<-chan schemas.AuditEntry, error) {
	t, err := tail.TailFile(r.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 2}, // start at EOF
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot tail audit log: %w", err)
	}

	out := make(chan schemas.AuditEntry)
	go func() {
		defer close(out)
		defer t.Cleanup()
		defer func() { _ = t.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					r.logger.Debug("Tail error on audit log", zap.Error(line.Err))
					continue
				}
				var e schemas.AuditEntry
				if err := json.Unmarshal([]byte(line.Text), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
