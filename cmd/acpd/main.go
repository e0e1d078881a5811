package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/adminapi"
	"github.com/fleetmind/acpd/internal/config"
	"github.com/fleetmind/acpd/internal/orchestrator"
	"github.com/fleetmind/acpd/internal/ratelimit"
	"github.com/fleetmind/acpd/internal/rl"
	"github.com/fleetmind/acpd/internal/store"
	"github.com/fleetmind/acpd/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "acpd",
		Short: "acpd — Agent Control Plane daemon",
		Long: `acpd is the control plane for a fleet of role-specialized agent
workers: it authenticates agent connections over WebSocket, routes tasks via
a coordinator and a pluggable RL policy, tracks per-agent workload and
backpressure, and exposes an admin HTTP API for operators.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.RegisterFlags(root, cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("acpd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting acpd",
		zap.String("version", version),
		zap.String("ws_addr", cfg.WSAddr),
		zap.String("admin_addr", cfg.AdminAddr),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Credentials ---
	creds, err := config.LoadCredentials(cfg.APIKeysFile)
	if err != nil {
		return fmt.Errorf("failed to load api keys: %w", err)
	}

	jwtMgr, err := config.BuildJWTManager(cfg.JWTDataDir, cfg.JWTIssuer, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	// --- 2. Store (experiences / patterns) ---
	gormDB, err := store.Open(store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: config.GormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	experienceStore := store.NewExperienceStore(gormDB)
	patternStore := store.NewPatternStore(gormDB)

	// --- 3. Rate limiting ---
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		GlobalRatePerSecond: cfg.RateLimitGlobalPerSecond,
		GlobalBurst:         cfg.RateLimitGlobalBurst,
		IPRatePerSecond:     cfg.RateLimitIPPerSecond,
		IPBurst:             cfg.RateLimitIPBurst,
		KeyRatePerSecond:    cfg.RateLimitKeyPerSecond,
		KeyBurst:            cfg.RateLimitKeyBurst,
		IdleEvictAfter:      10 * time.Minute,
	})
	janitor, err := ratelimit.NewJanitor(limiter, logger)
	if err != nil {
		return fmt.Errorf("failed to create rate limit janitor: %w", err)
	}
	if err := janitor.Start(5 * time.Minute); err != nil {
		return fmt.Errorf("failed to start rate limit janitor: %w", err)
	}
	defer func() {
		if err := janitor.Stop(); err != nil {
			logger.Warn("rate limit janitor shutdown error", zap.Error(err))
		}
	}()

	// --- 4. RL engine ---
	rlEngine := rl.NewEngine(logger)
	if err := rlEngine.SetAlgorithm(cfg.RLAlgorithm); err != nil {
		return fmt.Errorf("failed to select rl algorithm %q: %w", cfg.RLAlgorithm, err)
	}
	loadExperienceReplay(ctx, rlEngine, experienceStore, cfg.RLAlgorithm, logger)

	// --- 5. ACP WebSocket server ---
	server, err := acpserver.NewServer(acpserver.Config{
		ChannelCapacity:         cfg.ChannelCapacity,
		StaleSweepInterval:      cfg.HeartbeatInterval,
		StaleTTL:                cfg.StaleTTL,
		RequestTimeout:          cfg.RequestTimeout,
		DevAllowUnauthenticated: cfg.DevAllowUnauthenticated,
		TrustProxy:              true,
	}, creds, limiter, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create acp server: %w", err)
	}

	// --- 6. Orchestrator ---
	orch := orchestrator.New(orchestrator.Config{RLEnabled: true}, server, rlEngine, logger)

	// --- 7. Telemetry ---
	registry := telemetry.NewRegistry(server, rlEngine, limiter.RejectionCounts, logger)

	// --- 8. Admin HTTP API ---
	adminRouter := adminapi.NewRouter(adminapi.RouterConfig{
		Server:       server,
		Orchestrator: orch,
		RLEngine:     rlEngine,
		Patterns:     patternStore,
		JWTManager:   jwtMgr,
		Registry:     registry,
		Logger:       logger,
	})
	adminSrv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      adminRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", cfg.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 9. ACP WebSocket server (HTTP listener) ---
	wsSrv := &http.Server{
		Addr:         cfg.WSAddr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  0,
	}
	go func() {
		logger.Info("acp server listening", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("acp server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down acpd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("acp server graceful shutdown error", zap.Error(err))
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws http server graceful shutdown error", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("acpd stopped")
	return nil
}

// loadExperienceReplay seeds the RL engine's in-memory replay buffer from
// persisted storage so a restart does not start the policy's replay buffer
// empty — the Q-table itself is rebuilt incrementally from these Records.
func loadExperienceReplay(ctx context.Context, engine *rl.Engine, experienceStore store.ExperienceStore, algorithm string, logger *zap.Logger) {
	experiences, err := experienceStore.Sample(ctx, algorithm, 10000)
	if err != nil {
		logger.Warn("failed to load persisted experiences, starting with an empty replay buffer", zap.Error(err))
		return
	}
	for _, e := range experiences {
		engine.Record(e)
	}
	if len(experiences) > 0 {
		logger.Info("loaded persisted rl experiences", zap.Int("count", len(experiences)))
	}
}
