// Package cli implements the codemyspec command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codemyspec/codemyspec/internal/broadcast"
	"github.com/codemyspec/codemyspec/internal/config"
	"github.com/codemyspec/codemyspec/internal/db"
	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/runtime"
	"github.com/codemyspec/codemyspec/internal/sessions"
	"github.com/codemyspec/codemyspec/internal/workflows"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	ConfigFile string
	AccountID  string
	UserID     string
	ProjectID  string
}

// scope resolves the tenancy scope from flags, falling back to
// CODEMYSPEC_ACCOUNT_ID / CODEMYSPEC_USER_ID / CODEMYSPEC_PROJECT_ID.
func (f *globalFlags) scope() (sessions.Scope, error) {
	scope := sessions.Scope{
		AccountID: firstNonEmpty(f.AccountID, os.Getenv("CODEMYSPEC_ACCOUNT_ID")),
		UserID:    firstNonEmpty(f.UserID, os.Getenv("CODEMYSPEC_USER_ID")),
		ProjectID: firstNonEmpty(f.ProjectID, os.Getenv("CODEMYSPEC_PROJECT_ID")),
	}
	if scope.AccountID == "" || scope.UserID == "" {
		return sessions.Scope{}, fmt.Errorf("account and user are required: pass --account/--user or set CODEMYSPEC_ACCOUNT_ID/CODEMYSPEC_USER_ID")
	}
	return scope, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// app is the wired application: one of everything, shared by the commands.
type app struct {
	cfg     *config.Config
	logger  logr.Logger
	service *sessions.Service
	runtime *runtime.Registry
	cleanup func()
}

// buildApp loads configuration and wires the full dependency graph.
func buildApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return nil, err
	}

	logger, zl, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	store := sessions.NewStore(gormDB, logger)
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	registry := sessions.NewRegistry()
	envs := environment.NewStaticProvider(map[string]environment.Environment{
		"local": environment.NewLocal(cfg.WorkspaceRoot, logger),
	})
	workflows.Register(registry, envs, logger)

	broker := broadcast.NewBroker()
	metrics := sessions.DefaultMetrics()
	runtimeReg := runtime.NewRegistry()

	orchestrator := sessions.NewOrchestrator(store, registry, logger)
	executor := sessions.NewExecutor(logger)
	results := sessions.NewResultHandler(store, registry, broker, metrics, logger)
	events := sessions.NewEventHandler(store, broker, metrics, logger)

	manager := sessions.NewManager(sessions.ServerDeps{
		Store:         store,
		Orchestrator:  orchestrator,
		Executor:      executor,
		ResultHandler: results,
		Environments:  envs,
		Broker:        broker,
		Runtime:       runtimeReg,
		Metrics:       metrics,
		Logger:        logger,
		AsyncTimeout:  cfg.AsyncResultTimeout,
	})

	service := sessions.NewService(store, registry, orchestrator, manager, results, events, broker, metrics, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		service: service,
		runtime: runtimeReg,
		cleanup: func() { _ = zl.Sync() },
	}, nil
}

func newLogger(cfg *config.Config) (logr.Logger, *zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.LogDev {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl).WithName("codemyspec"), zl, nil
}
