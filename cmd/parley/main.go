package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/ratelimit"
	"github.com/parley-ai/parley/internal/server"
	"github.com/parley-ai/parley/internal/storage"
	"github.com/parley-ai/parley/internal/telemetry"
	"github.com/parley-ai/parley/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("PARLEY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("parley starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Pick the store: Postgres when configured, in-memory otherwise.
	var store storage.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = db
	} else {
		logger.Warn("no DATABASE_URL configured, conversations will not survive restarts")
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Seed the bootstrap API key so the first user can authenticate.
	if err := seedBootstrapKey(ctx, store, cfg); err != nil {
		logger.Warn("bootstrap key seed failed", "error", err)
	}

	// Agent roster, model provider, and the orchestrator around them.
	// The registry lives outside the engine so executions survive an
	// engine rebuild after a critical graph error.
	catalog := agents.NewCatalog()
	provider := newModelProvider(cfg, logger)
	registry := orchestrator.NewRegistry(logger, cfg.ExecutionTTL)
	// Persist the final assistant reply for executions that finish after
	// the start request's bounded wait (confirmation gates, long runs).
	registry.OnTerminal(server.NewCompletionFlusher(store, logger))
	build := func(r *orchestrator.Registry) *orchestrator.Engine {
		return orchestrator.NewEngine(r, orchestrator.Config{
			Catalog:  catalog,
			Provider: provider,
			Logger:   logger,
		})
	}
	orch := orchestrator.NewService(registry, build, cfg.WaitTimeout, logger)

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		JWTMgr:              jwtMgr,
		Orchestrator:        orch,
		Catalog:             catalog,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Evict finished executions past their TTL.
		registry.RunJanitor(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("parley stopped")
	return err
}

// seedBootstrapKey stores the configured bootstrap API key (hashed) for
// the bootstrap user, unless that user already has an active key.
func seedBootstrapKey(ctx context.Context, store storage.Store, cfg config.Config) error {
	if cfg.BootstrapAPIKey == "" {
		return nil
	}
	existing, err := store.ActiveAPIKeys(ctx, cfg.BootstrapUserID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	hash, err := auth.HashAPIKey(cfg.BootstrapAPIKey)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	key := model.APIKey{UserID: cfg.BootstrapUserID, KeyHash: hash, Label: "bootstrap"}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	slog.Info("bootstrap api key seeded", "user_id", cfg.BootstrapUserID)
	return nil
}

// newModelProvider selects the model provider based on configuration.
// Provider selection: "openai", "scripted", or "auto" (default). Auto
// uses OpenAI when a key is present and falls back to the scripted
// provider otherwise, so the system stays usable offline.
func newModelProvider(cfg config.Config, logger *slog.Logger) agents.Provider {
	switch cfg.ModelProvider {
	case "scripted":
		logger.Info("model provider: scripted")
		return agents.NewScriptedProvider()
	case "openai":
		logger.Info("model provider: openai", "model", cfg.OpenAIModel)
		return agents.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("model provider: openai (auto)", "model", cfg.OpenAIModel)
			return agents.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		}
		logger.Info("model provider: scripted (auto, no OPENAI_API_KEY)")
		return agents.NewScriptedProvider()
	}
}
