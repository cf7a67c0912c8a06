package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"alumnet/internal/api"
	"alumnet/internal/auth"
	"alumnet/internal/config"
	"alumnet/internal/db"
	"alumnet/internal/directory"
	"alumnet/internal/logging"
	"alumnet/internal/messaging"
	"alumnet/internal/metrics"
	"alumnet/internal/presence"
	"alumnet/internal/storage"
	"alumnet/internal/websocket"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "./config", "Directory containing config.yaml")
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	flag.Parse()

	logger := logging.L()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "alumnet"})
	logger = logging.L()
	logger.Info().Msg("starting server")

	// Modify database path for load testing
	if *isLoadTest && cfg.Database.Driver == db.DriverSQLite {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve working directory")
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create loadtest directory")
		}

		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		logger.Info().Str("path", loadTestPath).Msg("using load testing database")
	}

	store, err := db.Open(cfg.Database.Driver, cfg.DataSource(), cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database connection established")

	files, err := storage.NewLocalStorage(cfg.Uploads.Root, cfg.Uploads.MaxImageBytes)
	if err != nil {
		logger.Fatal().Err(err).Msg("uploads root unusable")
	}

	var cache directory.Cache
	if cfg.Redis.Enabled {
		redisCache, err := directory.NewRedisUserCache(directory.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		cache = redisCache
		logger.Info().Str("address", cfg.Redis.Address).Msg("user cache enabled")
	}
	users := directory.New(store, cache, cfg.Redis.UserCacheTTL)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(presence.NewRegistry(), websocket.Options{
		WebSocket:     cfg.WebSocket,
		PreviewLength: cfg.Messaging.PreviewLength,
		PushOnPersist: cfg.Messaging.PushOnPersist,
		Membership:    store,
		Metrics:       collector,
		Logger:        logger,
	})
	go hub.Run(hubCtx)

	var notifier messaging.Notifier
	if cfg.Messaging.PushOnPersist {
		notifier = hub
	}

	handlers := api.NewHandlers(api.Deps{
		Directory:     users,
		Resolver:      auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer),
		Messages:      messaging.NewService(store, users, notifier, collector),
		Hub:           hub,
		Storage:       files,
		Metrics:       collector,
		Store:         store,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	})

	server := &http.Server{
		Addr: cfg.Server.Address,
		Handler: api.NewRouter(handlers, api.RouterOptions{
			Logger:         logger,
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsPath:    cfg.Metrics.Path,
		}),
	}

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	stopHub()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
