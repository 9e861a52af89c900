// File: internal/audit/postgres.go
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked with
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresStore mirrors audit entries into Postgres for querying across
// hosts. It satisfies both schemas.AuditWriter and schemas.AuditReader.
// There is deliberately no update or delete path.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	params JSONB NOT NULL,
	status TEXT NOT NULL,
	result_summary TEXT NOT NULL,
	error TEXT
);`

// NewPostgresStore verifies the connection and ensures the table exists.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createAuditTable); err != nil {
		return nil, fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("audit_pg")}, nil
}

// Append inserts one entry. Entries arriving here are already redacted
// by the file log; Redact is applied again anyway so the store is safe
// to use standalone.
func (s *PostgresStore) Append(ctx context.Context, entry schemas.AuditEntry) error {
	params, err := json.Marshal(Redact(entry.Params))
	if err != nil {
		return fmt.Errorf("cannot encode audit params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries (ts, actor, action_id, action_type, params, status, result_summary, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
		entry.Timestamp.UTC(), entry.Actor, entry.ActionID, string(entry.ActionType),
		params, string(entry.Status), entry.ResultSummary, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, oldest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]schemas.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, actor, action_id, action_type, params, status, result_summary, COALESCE(error, '')
		FROM audit_entries ORDER BY id DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []schemas.AuditEntry
	for rows.Next() {
		var e schemas.AuditEntry
		var params []byte
		var actionType, status string
		if err := rows.Scan(&e.Timestamp, &e.Actor, &e.ActionID, &actionType, &params, &status, &e.Error); err != nil {
			return nil, err
		}
		e.ActionType = schemas.ActionType(actionType)
		e.Status = schemas.ActionStatus(status)
		if err := json.Unmarshal(params, &e.Params); err != nil {
			return nil, fmt.Errorf("failed to decode audit params: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first to match the file reader's ordering.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
