package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weftlabs/weft/internal/audit"
	"github.com/weftlabs/weft/internal/budget"
	"github.com/weftlabs/weft/internal/compiler"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/handlers"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/plugins"
	"github.com/weftlabs/weft/internal/routing"
	"github.com/weftlabs/weft/internal/scheduler"
	"github.com/weftlabs/weft/internal/secrets"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/tokens"
	"github.com/weftlabs/weft/internal/transform"
	"github.com/weftlabs/weft/pkg/mcp"
	"github.com/weftlabs/weft/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "weft:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// Stdout belongs to the MCP transport, so all logging goes to stderr.
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(weftDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sink := audit.NewSink(st, 256, logger)
	defer sink.Close()

	registry := plugins.NewRegistry(logger)
	defer registry.Close()
	registry.Register(plugins.NewSystemConnector(func(action string, params map[string]any) {
		logger.Info("system action", slog.String("action", action), slog.Any("params", params))
	}))
	if err := launchConnectors(ctx, cfg, st, registry, logger); err != nil {
		return err
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("cel engine: %w", err)
	}
	conditions := expressions.NewConditionEvaluator(cel)

	est := tokens.NewEstimator()
	router := routing.NewService(routing.LoadConfig("", logger), est, logger)
	budgets := budget.NewManager(st, budget.DefaultConfig(), logger)

	exec := engine.NewExecutor(st, sink, router, budgets,
		engine.Handlers{
			Action:    handlers.NewActionHandler(registry, logger),
			Transform: transform.NewEngine(conditions, expressions.NewExprEngine(), expressions.NewGoJQEngine()),
			AI:        handlers.NewAIHandler(modelClient(cfg, logger), logger),
		},
		conditions, logger,
		engine.Config{
			MaxConcurrency:  cfg.MaxConcurrency,
			AgentComplexity: cfg.AgentComplexity,
			Strategy:        schema.BudgetStrategy(cfg.BudgetStrategy),
			LevelBudget:     cfg.LevelBudget,
			StepTimeout:     cfg.stepTimeout(),
		})

	launcher := &runLauncher{store: st, exec: exec}

	sched := scheduler.NewScheduler(st, launcher, sink, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	comp, err := compiler.New(logger)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}

	srv := mcp.NewWeftServer(mcp.WeftServerDeps{
		Store:     st,
		Compiler:  comp,
		Runner:    launcher,
		Scheduler: sched,
		Logger:    logger,
	})

	logger.Info("weft server starting",
		slog.String("db", cfg.DBPath),
		slog.Int("max_concurrency", cfg.MaxConcurrency),
		slog.String("strategy", cfg.BudgetStrategy))

	return srv.Serve(ctx)
}

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

// modelClient picks the completion backend. Without a configured
// endpoint the scripted client echoes inputs, which keeps dry runs and
// deterministic workflows usable.
func modelClient(cfg Config, logger *slog.Logger) handlers.ModelClient {
	if cfg.Model.BaseURL == "" {
		logger.Warn("no model endpoint configured, using echo client")
		return handlers.NewFakeModelClient()
	}
	return handlers.NewHTTPModelClient(handlers.HTTPClientConfig{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: time.Duration(cfg.Model.TimeoutSec) * time.Second,
	})
}

// launchConnectors starts the configured MCP connector subprocesses,
// resolving vault references in their environment.
func launchConnectors(ctx context.Context, cfg Config, st store.Store, registry *plugins.Registry, logger *slog.Logger) error {
	if len(cfg.Connectors) == 0 {
		return nil
	}

	var vault secrets.Vault
	if cfg.VaultPassphrase != "" {
		v, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte("weft-connector-vault"),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		vault = v
	}

	for _, cc := range cfg.Connectors {
		env, err := resolveEnv(ctx, vault, cc.Env)
		if err != nil {
			return fmt.Errorf("connector %s env: %w", cc.Name, err)
		}
		conn, err := plugins.NewStdioConnector(ctx, plugins.StdioConfig{
			Name:    cc.Name,
			Command: cc.Command,
			Args:    cc.Args,
			Env:     env,
		}, logger)
		if err != nil {
			return fmt.Errorf("launch connector %s: %w", cc.Name, err)
		}
		registry.Register(conn)
	}
	return nil
}

func resolveEnv(ctx context.Context, vault secrets.Vault, env []string) ([]string, error) {
	if vault == nil {
		return env, nil
	}
	resolved := make([]string, 0, len(env))
	for _, entry := range env {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			resolved = append(resolved, entry)
			continue
		}
		r, err := secrets.ResolveRef(ctx, vault, value)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, key+"="+r)
	}
	return resolved, nil
}
