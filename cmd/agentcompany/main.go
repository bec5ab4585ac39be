// Command agentcompany runs the agent orchestration engine: the HTTP
// control surface, the worker pool, and the background services behind it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kawanishi0117/agent-company-sub001/pkg/agent"
	"github.com/kawanishi0117/agent-company-sub001/pkg/api"
	"github.com/kawanishi0117/agent-company-sub001/pkg/cleanup"
	"github.com/kawanishi0117/agent-company-sub001/pkg/config"
	"github.com/kawanishi0117/agent-company-sub001/pkg/container"
	"github.com/kawanishi0117/agent-company-sub001/pkg/events"
	"github.com/kawanishi0117/agent-company-sub001/pkg/gitops"
	"github.com/kawanishi0117/agent-company-sub001/pkg/llm"
	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
	"github.com/kawanishi0117/agent-company-sub001/pkg/orchestrator"
	"github.com/kawanishi0117/agent-company-sub001/pkg/pool"
	"github.com/kawanishi0117/agent-company-sub001/pkg/qualitygate"
	"github.com/kawanishi0117/agent-company-sub001/pkg/store"
	"github.com/kawanishi0117/agent-company-sub001/pkg/tools"
	"github.com/kawanishi0117/agent-company-sub001/pkg/version"
)

const defaultWorkerImage = "agentcompany/worker:latest"

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir   = flag.String("config", ".", "directory containing agentcompany.yaml")
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return nil
	}

	// Local development keys live in .env; absence is fine.
	_ = godotenv.Load()

	setupLogging(*logLevel)
	slog.Info("Starting agentcompany", "version", version.Full())

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}

	st := store.New(cfg.System.RuntimeBasePath)
	if err := st.SaveSystemConfig(cfg.System); err != nil {
		return fmt.Errorf("persist system configuration: %w", err)
	}

	registry := llm.NewRegistry()
	client, err := registry.New(cfg.System.DefaultAIAdapter, llm.AdapterConfig{
		APIKey: apiKeyFor(cfg.System.DefaultAIAdapter),
		Model:  cfg.System.DefaultModel,
	})
	if err != nil {
		return fmt.Errorf("build AI adapter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := llm.NewHealthChecker(client, time.Minute)
	health.Start(ctx)
	defer health.Stop()

	workerPool, err := buildPool(cfg, st, client)
	if err != nil {
		return err
	}

	workspaceBase := filepath.Join(cfg.System.RuntimeBasePath, "workspace")
	if err := os.MkdirAll(workspaceBase, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:  st,
		Pool:   workerPool,
		Bus:    events.NewBus(),
		Client: client,
		Model:  cfg.System.DefaultModel,
		GateConfig: qualitygate.Config{
			LintCommand:      cfg.Quality.LintCommand,
			TestCommand:      cfg.Quality.TestCommand,
			SkipLint:         cfg.Quality.SkipLint,
			SkipTest:         cfg.Quality.SkipTest,
			CheckTimeout:     cfg.Quality.CheckTimeout,
			TestFilePatterns: cfg.Quality.TestFilePatterns,
		},
		WorkspaceBase: workspaceBase,
		Health:        health,
	})

	if recovered, err := orch.RecoverRuns(ctx); err != nil {
		slog.Warn("Run recovery incomplete", "error", err)
	} else if len(recovered) > 0 {
		slog.Info("Recovered in-progress runs", "count", len(recovered))
	}

	retention := cleanup.NewService(st, cfg.Retention.RunRetentionDays, cfg.Retention.CleanupInterval)
	retention.Start(ctx)
	defer retention.Stop()

	server := api.NewServer(orch)
	err = server.Start(ctx, *addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := orch.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("Workflows did not settle before shutdown deadline", "error", shutdownErr)
	}
	if stopErr := workerPool.Stop(shutdownCtx); stopErr != nil {
		slog.Warn("Worker pool stop failed", "error", stopErr)
	}
	slog.Info("Shutdown complete")
	return err
}

// buildPool wires the worker pool: AI-driven agents, each optionally backed
// by an isolated container.
func buildPool(cfg *config.Config, st *store.Store, client llm.Client) (*pool.Pool, error) {
	typeRegistry := pool.DefaultTypeRegistry(cfg.System.DefaultAIAdapter, cfg.System.DefaultModel, defaultWorkerImage)

	var provision pool.ContainerProvisioner
	if cfg.Pool.UseContainers {
		runtime, err := container.NewRuntime(cfg.System.ContainerRuntime, container.RuntimeConfig{
			SocketPath:      cfg.System.DockerSocketPath,
			AllowedCommands: cfg.System.AllowedDockerCommands,
		})
		if err != nil {
			return nil, fmt.Errorf("build container runtime: %w", err)
		}

		isolation := container.DefaultIsolationConfig()
		if cfg.Isolation.NetworkMode != "" {
			isolation.NetworkMode = cfg.Isolation.NetworkMode
		}
		if cfg.Isolation.PidsLimit > 0 {
			isolation.PidsLimit = cfg.Isolation.PidsLimit
		}
		if cfg.Isolation.ReadOnlyRoot {
			isolation.ReadOnlyRoot = true
		}

		resultsDir := filepath.Join(cfg.System.RuntimeBasePath, "results")
		if err := os.MkdirAll(resultsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create results directory: %w", err)
		}

		provision = func(ctx context.Context, workerID string, spec pool.TypeSpec) (*container.WorkerContainer, error) {
			wc := container.NewWorkerContainer(workerID, runtime, isolation, container.WorkerOptions{
				Image:       spec.Image,
				ResultsDir:  resultsDir,
				CPULimit:    cfg.System.WorkerCPULimit,
				MemoryLimit: cfg.System.WorkerMemoryLimit,
			})
			if err := wc.Create(ctx); err != nil {
				return nil, err
			}
			if err := wc.Start(ctx); err != nil {
				return nil, err
			}
			return wc, nil
		}
	}

	workspaceBase := filepath.Join(cfg.System.RuntimeBasePath, "workspace")

	return pool.New(pool.Config{
		MaxWorkers:              cfg.System.MaxConcurrentWorkers,
		Registry:                typeRegistry,
		AcquirePollInterval:     cfg.Pool.AcquirePollInterval,
		AcquireTimeout:          cfg.Pool.AcquireTimeout,
		AllowCapabilityFallback: cfg.Pool.AllowCapabilityFallback,
		Provision:               provision,
		NewWorker: func(workerID string, workerType models.WorkerType, spec pool.TypeSpec) (*agent.Worker, error) {
			workspace := filepath.Join(workspaceBase, workerID)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return nil, err
			}
			git := gitops.NewClient(workspace, nil)
			return agent.NewWorker(agent.Config{
				WorkerID:      workerID,
				WorkerType:    workerType,
				Capabilities:  spec.Capabilities,
				Client:        client,
				Model:         spec.Model,
				Tools:         tools.DefaultSet(workspace, true, nil, git),
				Store:         st,
				MaxIterations: cfg.Pool.MaxIterations,
			}), nil
		},
	}), nil
}

// apiKeyFor maps an adapter name onto its conventional environment variable.
func apiKeyFor(adapter string) string {
	switch adapter {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func setupLogging(level string) {
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
