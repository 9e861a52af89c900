// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/audit"
	"github.com/karavolt/deskpilot-cli/internal/guard"
	"github.com/karavolt/deskpilot-cli/internal/inline"
	"github.com/karavolt/deskpilot-cli/internal/observability"
	"github.com/karavolt/deskpilot-cli/internal/pipeline"
	"github.com/karavolt/deskpilot-cli/internal/planner"
	"github.com/karavolt/deskpilot-cli/internal/registry"
	"github.com/karavolt/deskpilot-cli/internal/router"
	"github.com/karavolt/deskpilot-cli/internal/windowstate"
)

// Components holds every initialized service a command needs. The
// struct centralizes lifecycle management; commands never wire
// dependencies themselves.
type Components struct {
	Registry    *registry.Registry
	Guard       *guard.Guard
	Tracker     *windowstate.Tracker
	AuditLog    *audit.Log
	AuditReader *audit.Reader
	Router      *router.Router
	Pipeline    *pipeline.Pipeline

	// Planner is nil unless the factory was asked for it; most commands
	// never touch the inference service.
	Planner *planner.Planner

	// Inline is nil when no selection source is available on the host.
	Inline *inline.Observer

	DBPool *pgxpool.Pool

	llm          schemas.LLMClient
	egressCancel func()
}

// Shutdown releases resources in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the inline observer so nothing new is produced.
	if c.Inline != nil {
		c.Inline.Stop()
		logger.Debug("Inline observer stopped.")
	}

	// 2. Stop the egress proxy; no sandbox run can be in flight once
	// commands have returned.
	if c.egressCancel != nil {
		c.egressCancel()
		logger.Debug("Egress proxy stopped.")
	}

	// 3. Release the inference client.
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			logger.Warn("Error closing inference client.", zap.Error(err))
		}
	}

	// 4. Flush and close the audit log last among writers; late entries
	// from steps above must still land.
	if c.AuditLog != nil {
		if err := c.AuditLog.Close(); err != nil {
			logger.Warn("Error closing audit log.", zap.Error(err))
		} else {
			logger.Debug("Audit log closed.")
		}
	}

	// 5. Close the database pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
