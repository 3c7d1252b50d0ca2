// Package main is the entry point for the rampartd binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rampart-ai/rampart/internal/governance"
	"github.com/rampart-ai/rampart/pkg/config"
	"github.com/rampart-ai/rampart/pkg/engine"
	"github.com/rampart-ai/rampart/pkg/guard"
	"github.com/rampart-ai/rampart/pkg/history"
	"github.com/rampart-ai/rampart/pkg/logging"
	"github.com/rampart-ai/rampart/pkg/model"
	"github.com/rampart-ai/rampart/pkg/policy"
	"github.com/rampart-ai/rampart/pkg/service"
	"github.com/rampart-ai/rampart/pkg/telemetry"
)

const (
	defaultConfigPath        = "config.yaml"
	serviceName              = "rampartd"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listenAddr := flag.String("listen", "", "Address to listen on (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error; overrides config)")
	prettyLogs := flag.Bool("pretty", false, "Enable pretty console logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration load failed: %v", err)
	}

	// Apply flag overrides
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *prettyLogs {
		cfg.Logging.Pretty = true
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error("rampartd failed", "error", err)
		os.Exit(1)
	}
}

// run builds the pipeline from configuration and serves it until a
// shutdown signal arrives.
func run(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	telemetryShutdown, err := telemetry.SetupProvider(ctx, cfg.Telemetry.ProviderConfig(serviceName))
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	catalog, err := cfg.Guardrails.Catalog()
	if err != nil {
		return fmt.Errorf("pattern catalog build failed: %w", err)
	}

	limiter := governance.NewSessionLimiter(cfg.Guardrails.LimiterConfig())
	guardrails := guard.New(guard.Options{
		Config:  cfg.Guardrails.GuardConfig(),
		Catalog: catalog,
		Limiter: limiter,
		Logger:  logger,
	})

	policyHook, err := buildPolicyHook(ctx, cfg.Policy)
	if err != nil {
		return fmt.Errorf("policy engine initialization failed: %w", err)
	}

	store := history.NewMemoryStore()
	orchestrator := engine.New(engine.Options{
		Guard:     guardrails,
		Generator: buildGenerator(cfg.Model, logger),
		Store:     store,
		Budget:    cfg.Guardrails.HistoryBudget(),
		Estimator: cfg.Model.Estimator(),
		Policy:    policyHook,
		Scrub:     cfg.Telemetry.Scrub,
		Logger:    logger,
	})

	srv := service.New(service.Options{
		Addr:            cfg.Server.ListenAddr,
		Engine:          orchestrator,
		Guard:           guardrails,
		Store:           store,
		Logger:          logger,
		ReadTimeout:     cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:    cfg.Server.WriteTimeoutDuration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
	})

	provider, err := config.NewFileConfigProvider(configPath, logger)
	if err != nil {
		return fmt.Errorf("config provider initialization failed: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("failed to close config provider", "error", err)
		}
	}()

	go watchConfig(provider, guardrails, limiter, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("starting rampartd",
		"addr", cfg.Server.ListenAddr,
		"model", modelBackend(cfg.Model),
		"policy", cfg.Policy.Enabled)

	return srv.Start(runCtx)
}

// watchConfig applies configuration reloads to the running guardrails.
// Only the validation knobs and rate limits hot-swap; server, model,
// policy, and pattern catalog changes require a restart.
func watchConfig(provider *config.FileConfigProvider, guardrails *guard.Guardrails, limiter *governance.SessionLimiter, logger *slog.Logger) {
	initial := provider.Current().Generation
	updates := provider.Subscribe()
	for snapshot := range updates {
		if snapshot.Generation <= initial {
			continue
		}
		logger.Info("configuration update received", "generation", snapshot.Generation)

		limiter.Configure(snapshot.Config.Guardrails.LimiterConfig())
		guardrails.Reconfigure(snapshot.Config.Guardrails.GuardConfig())
	}
}

// buildGenerator selects the upstream backend: the HTTP gateway when an
// endpoint is configured, the offline local provider otherwise.
func buildGenerator(cfg config.ModelConfig, logger *slog.Logger) model.Generator {
	if cfg.Endpoint == "" {
		return model.NewLocalProvider()
	}
	return model.NewGatewayClient(cfg.GatewayConfig(), logger)
}

// buildPolicyHook compiles the configured Rego modules. A disabled
// section yields a nil hook, which the orchestrator treats as
// always-allow.
func buildPolicyHook(ctx context.Context, cfg config.PolicyConfig) (policy.Hook, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(ctx, opts)
}

func modelBackend(cfg config.ModelConfig) string {
	if cfg.Endpoint == "" {
		return "local"
	}
	return cfg.Endpoint
}

func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}
