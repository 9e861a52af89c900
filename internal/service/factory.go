// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/karavolt/deskpilot-cli/api/schemas"
	"github.com/karavolt/deskpilot-cli/internal/adapters/content"
	"github.com/karavolt/deskpilot-cli/internal/adapters/editor"
	"github.com/karavolt/deskpilot-cli/internal/adapters/fsops"
	"github.com/karavolt/deskpilot-cli/internal/adapters/htmlpreview"
	"github.com/karavolt/deskpilot-cli/internal/audit"
	"github.com/karavolt/deskpilot-cli/internal/config"
	"github.com/karavolt/deskpilot-cli/internal/guard"
	"github.com/karavolt/deskpilot-cli/internal/inline"
	"github.com/karavolt/deskpilot-cli/internal/pipeline"
	"github.com/karavolt/deskpilot-cli/internal/planner"
	"github.com/karavolt/deskpilot-cli/internal/registry"
	"github.com/karavolt/deskpilot-cli/internal/router"
	"github.com/karavolt/deskpilot-cli/internal/sandbox"
	"github.com/karavolt/deskpilot-cli/internal/windowstate"
)

// Options selects optional components a command may need.
type Options struct {
	// WithPlanner initializes the inference client. Only autoplan needs
	// it; every other command works offline.
	WithPlanner bool
}

// ComponentFactory creates the components a command runs on. The
// abstraction keeps command logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation.
type concreteFactory struct{}

// NewComponentFactory creates a production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Resource guard. Nothing mutating is built before policy exists.
	g, err := guard.New(cfg.Guard, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize resource guard: %w", err)
		return nil, initializationErr
	}
	components.Guard = g
	logger.Debug("Resource guard initialized.")

	// 2. Action schema registry.
	components.Registry = registry.NewWithBuiltins()
	logger.Debug("Schema registry initialized.")

	// 3. Audit log, with the optional Postgres mirror.
	auditLog, err := audit.NewLog(cfg.Audit.Path, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open audit log: %w", err)
		return nil, initializationErr
	}
	components.AuditLog = auditLog
	components.AuditReader = audit.NewReader(cfg.Audit.Path, logger)

	if cfg.Audit.MirrorToDatabase {
		if cfg.Database.URL == "" {
			initializationErr = fmt.Errorf("audit mirroring requires a database URL (hint: check DESKPILOT_DATABASE_URL)")
			return nil, initializationErr
		}
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = dbPool

		pgStore, err := audit.NewPostgresStore(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize audit mirror: %w", err)
			return nil, initializationErr
		}
		auditLog.SetMirror(pgStore)
		logger.Debug("Audit mirror initialized.")
	}

	// 4. Window arrangement tracker.
	stateStore, err := windowstate.NewFileStore(cfg.Window.StateFile)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open window state store: %w", err)
		return nil, initializationErr
	}
	arranger := editor.NewExecArranger(logger)
	components.Tracker = windowstate.New(arranger, stateStore, nil, logger)
	logger.Debug("Window state tracker initialized.")

	// 5. Native adapters.
	adapters := []schemas.NativeAdapter{
		fsops.New(g, logger),
		content.NewAdapter(content.NewBuilder(g.PrimaryRoot()), g, logger),
		editor.New(components.Tracker, g, cfg.Window.DefaultSplitForAutomation, logger),
		htmlpreview.New(g, cfg.Preview, logger),
	}
	logger.Debug("Native adapters initialized.", zap.Int("count", len(adapters)))

	// 6. Sandbox client and egress proxy.
	var sandboxExec schemas.Executor
	var egress *sandbox.EgressProxy
	if cfg.Sandbox.EgressProxyAddr != "" {
		egress = sandbox.NewEgressProxy(cfg.Sandbox.EgressProxyAddr, logger)
		egressCtx, egressCancel := context.WithCancel(context.Background())
		components.egressCancel = egressCancel
		go func() {
			if err := egress.Start(egressCtx); err != nil && egressCtx.Err() == nil {
				logger.Warn("Egress proxy exited.", zap.Error(err))
			}
		}()
	}
	if cfg.Sandbox.AgentURL != "" {
		client, err := sandbox.NewClient(cfg.Sandbox, egress, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize sandbox client: %w", err)
			return nil, initializationErr
		}
		sandboxExec = sandbox.NewExecutor(client, cfg.Sandbox, g.AllowedRoots(), logger)
		logger.Debug("Sandbox executor initialized.")
	}

	// 7. Router.
	components.Router = router.New(adapters, sandboxExec, cfg.Router, nil, logger)

	// 8. Inline selection observer. Best-effort: a host without a
	// selection tool simply runs without enrichment.
	var contextProvider pipeline.ContextProvider
	if cfg.Inline.Enabled {
		source, err := inline.NewClipboardSource()
		if err != nil {
			logger.Debug("Inline enrichment disabled.", zap.Error(err))
		} else {
			components.Inline = inline.New(source, cfg.Inline, nil, logger)
			components.Inline.Start(ctx)
			contextProvider = components.Inline
			logger.Debug("Inline observer started.")
		}
	}

	// 9. Pipeline.
	components.Pipeline = pipeline.New(components.Registry, components.Router, auditLog, contextProvider, cfg.Audit.Actor, nil, logger)
	logger.Debug("Action pipeline initialized.")

	// 10. Planner, on request only.
	if opts.WithPlanner {
		llm, err := planner.NewGeminiClient(ctx, cfg.Planner.Model)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize inference client: %w", err)
			return nil, initializationErr
		}
		components.llm = llm
		components.Planner = planner.New(llm, components.Registry, cfg.Planner, logger)
		logger.Debug("Planner initialized.")
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}
