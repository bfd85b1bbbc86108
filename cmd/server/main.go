package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xekr/packsmith/internal/api"
	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/cache"
	"github.com/xekr/packsmith/internal/config"
	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/health"
	"github.com/xekr/packsmith/internal/project"
	"github.com/xekr/packsmith/internal/service"
	"github.com/xekr/packsmith/internal/source"
	"github.com/xekr/packsmith/internal/storage"
	"github.com/xekr/packsmith/internal/version"
)

func main() {
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	flag.Parse()

	if *healthCheck {
		performHealthCheck()
		return
	}

	setupLogger()

	log.Info().Msg("Pack build service starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create required directories")
	}

	logStartupConfig(cfg)

	router, err := newRouter(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}
	app := router.App

	app.Server().ReadTimeout = cfg.Server.ReadTimeout
	app.Server().WriteTimeout = cfg.Server.WriteTimeout

	setupGracefulShutdown(app, router.Cleanup)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("addr", serverAddr).
		Msg("Starting HTTP server")

	if err := app.Listen(serverAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
}

// newRouter wires the build service and its optional parts from cfg
func newRouter(ctx context.Context, cfg *config.Config) (*api.RouterResult, error) {
	registry, err := loadRegistry(cfg.Build.RegistryFile)
	if err != nil {
		return nil, err
	}
	log.Info().Int("versions", registry.Len()).Str("latest", registry.Latest().ID).Msg("Version registry loaded")

	client := source.NewClient(source.ClientConfig{
		APIURL:         cfg.GitHub.APIURL,
		Token:          cfg.GitHub.Token,
		Timeout:        cfg.GitHub.Timeout,
		MaxArchiveSize: cfg.GitHub.MaxArchiveSize,
	})
	projects := cache.NewLRU[*project.Project](cfg.Cache.MaxSize, cfg.Cache.TTL)

	components := map[string]domain.ComponentChecker{
		"github": client,
		"cache":  projects,
	}

	var store *storage.Store
	if cfg.Storage.KeepBuilds {
		store = storage.NewStore(cfg.BuildsDir(), cfg.Storage.MaxArtifacts)
		if err := store.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load stored builds: %w", err)
		}
		components["store"] = store
	}

	svc := service.New(service.Dependencies{
		Builder: builder.New(registry, builder.Options{
			MaxConcurrentFetches: cfg.Build.MaxConcurrentFetches,
		}),
		Loader:   project.NewLoader(int(cfg.Build.MaxConcurrentFetches)),
		Client:   client,
		Projects: projects,
		Store:    store,
	})

	return api.SetupRouter(api.RouterDependencies{
		Service:       svc,
		HealthChecker: health.NewSystemHealthChecker(components),
	}, api.RouterConfig{
		CORSOrigins:    cfg.Security.CORSOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		BuildTimeout:   cfg.Build.Timeout,
	}), nil
}

func loadRegistry(file string) (*version.Registry, error) {
	if file == "" {
		return version.Default()
	}
	return version.LoadFile(file)
}

func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339

	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if os.Getenv("LOG_FORMAT") == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func logStartupConfig(cfg *config.Config) {
	log.Info().
		Int("server_port", cfg.Server.Port).
		Dur("server_read_timeout", cfg.Server.ReadTimeout).
		Dur("server_write_timeout", cfg.Server.WriteTimeout).
		Int("server_body_limit", cfg.Server.BodyLimit).
		Str("github_api_url", cfg.GitHub.APIURL).
		Bool("github_token_set", cfg.GitHub.Token != "").
		Int64("build_max_concurrent_fetches", cfg.Build.MaxConcurrentFetches).
		Dur("build_timeout", cfg.Build.Timeout).
		Int("cache_max_size", cfg.Cache.MaxSize).
		Dur("cache_ttl", cfg.Cache.TTL).
		Str("storage_data_dir", cfg.Storage.DataDir).
		Bool("storage_keep_builds", cfg.Storage.KeepBuilds).
		Strs("security_cors_origins", cfg.Security.CORSOrigins).
		Str("logging_level", cfg.Logging.Level).
		Str("logging_format", cfg.Logging.Format).
		Msg("Configuration loaded successfully")
}

func setupGracefulShutdown(app *fiber.App, cleanup func()) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		stop()

		log.Info().Msg("Received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info().Msg("Stopping HTTP server...")
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during HTTP server shutdown")
		}
		if cleanup != nil {
			cleanup()
		}

		log.Info().Msg("Graceful shutdown completed")
		os.Exit(0)
	}()
}

func performHealthCheck() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{
		Timeout: 3 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
