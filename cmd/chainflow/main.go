package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/solweave/chainflow/internal/engine"
	"github.com/solweave/chainflow/internal/handlers"
	"github.com/solweave/chainflow/internal/logging"
	"github.com/solweave/chainflow/internal/panel"
	"github.com/solweave/chainflow/internal/scheduler"
	"github.com/solweave/chainflow/internal/secrets"
	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/internal/validation"
	"github.com/solweave/chainflow/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chainflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()

	// A configured vault overrides the plaintext service token from the
	// environment with one stored encrypted in the database.
	serviceToken := cfg.ServiceToken
	if cfg.VaultPass != "" {
		salt := cfg.VaultSalt
		if salt == "" {
			salt = "chainflow.v1"
		}
		vault, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPass,
			Salt:       []byte(salt),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		if token, err := vault.Resolve(ctx, "service_token"); err == nil {
			serviceToken = string(token)
		}
	}

	registry := handlers.NewRegistry()
	if err := handlers.RegisterDefaults(registry, buildServices(cfg, serviceToken, logger)); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	runner := engine.NewRunner(st, hub, registry, logger)

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return fmt.Errorf("compile graph schema: %w", err)
	}

	sched := scheduler.NewScheduler(st, runner, logger)
	if cfg.Scheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed-schedule recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	if cfg.PanelAddr != "" {
		canvas := panel.NewServer(panel.Deps{
			Store:     st,
			Runner:    runner,
			Hub:       hub,
			Validator: validator,
			Cron:      sched,
			Logger:    logger,
		})
		go func() {
			if err := canvas.ListenAndServe(ctx, cfg.PanelAddr); err != nil {
				logger.Error("canvas API stopped", slog.String("error", err.Error()))
			}
		}()
	}

	srv := mcp.NewChainflowServer(mcp.ChainflowServerDeps{
		Runner:    runner,
		Store:     st,
		Validator: validator,
		Hub:       hub,
		Cron:      sched,
		Logger:    logger,
	})

	logger.Info("chainflow started",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath),
		slog.Bool("scheduler", cfg.Scheduler),
	)

	// Blocks until stdin closes or a signal arrives.
	return srv.Serve(ctx)
}

// buildServices selects HTTP-backed clients when service URLs are configured
// and deterministic local simulations otherwise.
func buildServices(cfg Config, serviceToken string, logger *slog.Logger) handlers.Services {
	svcs := handlers.Services{
		Compiler: services.NewSimulatedCompiler(),
		Deployer: services.NewSimulatedDeployer(cfg.Network),
		Auditor:  services.NewSimulatedAuditor(),
		Syntax:   services.NewLocalSyntax(),
	}

	timeout := cfg.serviceTimeout()
	if cfg.CompilerURL != "" {
		svcs.Compiler = services.NewHTTPCompiler(services.HTTPClientConfig{
			BaseURL: cfg.CompilerURL,
			Token:   serviceToken,
			Timeout: timeout,
		})
		logger.Info("using remote compiler", slog.String("url", cfg.CompilerURL))
	}
	if cfg.DeployerURL != "" {
		svcs.Deployer = services.NewHTTPDeployer(services.HTTPClientConfig{
			BaseURL: cfg.DeployerURL,
			Token:   serviceToken,
			Timeout: timeout,
		})
		logger.Info("using remote deployer", slog.String("url", cfg.DeployerURL))
	}
	if cfg.AuditorURL != "" {
		svcs.Auditor = services.NewHTTPAuditor(services.HTTPClientConfig{
			BaseURL: cfg.AuditorURL,
			Token:   serviceToken,
			Timeout: timeout,
		})
		logger.Info("using remote auditor", slog.String("url", cfg.AuditorURL))
	}
	return svcs
}

// newLogger writes to stderr; stdout carries the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
