// SHSH Operator - autonomous agent server operating a sandbox over SSH.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-operator/internal/agent"
	"github.com/ashureev/shsh-operator/internal/api"
	"github.com/ashureev/shsh-operator/internal/audit"
	"github.com/ashureev/shsh-operator/internal/config"
	"github.com/ashureev/shsh-operator/internal/container"
	"github.com/ashureev/shsh-operator/internal/health"
	"github.com/ashureev/shsh-operator/internal/identity"
	"github.com/ashureev/shsh-operator/internal/logging"
	"github.com/ashureev/shsh-operator/internal/metrics"
	"github.com/ashureev/shsh-operator/internal/middleware"
	"github.com/ashureev/shsh-operator/internal/remote"
	"github.com/ashureev/shsh-operator/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(os.Stdout, logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Debug: cfg.DebugMode,
	})
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server",
		"addr", cfg.Addr(),
		"model", cfg.Upstream.Model,
		"transport", cfg.Exec.Transport,
		"max_steps", cfg.Upstream.MaxSteps,
	)

	// Persistence.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	store.StartRetentionWorker(ctx, repo, cfg.AuditRetention)

	fileAudit, err := audit.NewFileRecorder(cfg.Log.AuditPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer fileAudit.Close()
	recorder := audit.Multi(fileAudit, audit.NewStoreRecorder(repo))

	m := metrics.New()

	// Sandbox.
	var mgr container.Manager
	if cfg.Sandbox.Manage || cfg.Exec.Transport == config.TransportDocker {
		dm, err := container.NewDockerManager()
		if err != nil {
			return fmt.Errorf("initialize container manager: %w", err)
		}
		defer dm.Close()
		mgr = dm
	}

	spec := container.SandboxSpec{
		Image:               cfg.Sandbox.Image,
		Name:                cfg.Sandbox.ContainerName,
		Runtime:             cfg.Sandbox.Runtime,
		SSHPort:             cfg.SSH.Port,
		HostSharedPath:      cfg.Sandbox.HostSharedPath,
		ContainerSharedPath: cfg.Sandbox.ContainerSharedPath,
	}
	if cfg.SSH.Password != "" {
		spec.Env = map[string]string{"SSH_ROOT_PASSWORD": cfg.SSH.Password}
	}
	if cfg.Sandbox.Manage {
		id, err := mgr.EnsureSandbox(ctx, spec)
		if err != nil {
			return fmt.Errorf("ensure sandbox: %w", err)
		}
		slog.Info("Sandbox ready", "container_id", id, "name", spec.Name)
		m.SandboxStatus(true)
		container.StartWatchdog(ctx, mgr, spec, 0, m.SandboxStatus)
	}

	var dial remote.Dialer
	switch cfg.Exec.Transport {
	case config.TransportDocker:
		dial = remote.NewDockerDialer(mgr, cfg.Sandbox.ContainerName)
	default:
		dial, err = remote.NewSSHDialer(cfg.SSH)
		if err != nil {
			return fmt.Errorf("configure ssh: %w", err)
		}
	}

	// Agent.
	transcripts, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	svc, err := agent.NewService(agent.ServiceOptions{
		Config: agent.Config{
			DefaultModel:        cfg.Upstream.Model,
			MaxSteps:            cfg.Upstream.MaxSteps,
			ContainerSharedPath: cfg.Sandbox.ContainerSharedPath,
			HostSharedPath:      cfg.Sandbox.HostSharedPath,
		},
		Provider:    agent.NewOpenAIProvider(cfg.Upstream.BaseURL, cfg.Upstream.APIKey),
		Dial:        dial,
		Recorder:    recorder,
		Repo:        repo,
		Transcripts: transcripts,
		Metrics:     m,
		Exec: remote.Options{
			Timeout:        cfg.Exec.CommandTimeout,
			MaxOutputBytes: cfg.Exec.MaxOutputBytes,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("initialize agent service: %w", err)
	}
	agentHandler := agent.NewHandler(svc, agent.HandlerOptions{
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
		MaxRequestBodySize: cfg.MaxRequestBodyBytes,
		AllowedOrigins:     cfg.CORSOrigins,
		Metrics:            m,
	})
	defer agentHandler.Close()

	checker := health.NewChecker(5*time.Second,
		health.Check{Name: "database", Ping: repo.Ping},
		health.Check{Name: "sandbox", Ping: sandboxCheck(cfg, mgr)},
	)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware)

	r.Route("/api", func(r chi.Router) {
		api.NewHealthHandler(checker).RegisterHealth(r)
		api.NewRunsHandler(repo).RegisterRoutes(r)
	})
	agentHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		hs := health.NewServer(checker, 0)
		go func() {
			slog.Info("gRPC health listening", "addr", cfg.GRPCHealthAddr)
			if err := hs.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentHandler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// sandboxCheck checks the container when it is managed locally, otherwise
// that the SSH endpoint accepts connections.
func sandboxCheck(cfg *config.Config, mgr container.Manager) func(context.Context) error {
	if mgr != nil {
		return func(ctx context.Context) error {
			running, err := mgr.IsRunning(ctx, cfg.Sandbox.ContainerName)
			if err != nil {
				return err
			}
			if !running {
				return errors.New("sandbox container not running")
			}
			return nil
		}
	}
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.SSH.Addr())
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
