package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/integems/caption-agent/config"
	"github.com/integems/caption-agent/src/auth"
	"github.com/integems/caption-agent/src/caption"
	"github.com/integems/caption-agent/src/database"
	"github.com/integems/caption-agent/src/handlers"
	"github.com/integems/caption-agent/src/services"
	"github.com/integems/caption-agent/src/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, logger)
		},
	}
}

// openStore returns the configured Store and a function releasing it.
func openStore(cfg *config.Config, logger *zap.Logger) (database.Store, func() error, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := database.NewDatabaseConnection(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.AutoMigrateTables(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return database.NewGormStore(db), sqlDB.Close, nil
}

// openRevocations connects to redis when it is configured. Without it,
// logout only clears the cookie.
func openRevocations(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.RevocationList, func() error, error) {
	if cfg.RedisAddr() == "" {
		logger.Info("redis not configured; session revocation disabled")
		return auth.NoRevocation{}, func() error { return nil }, nil
	}

	client := database.NewRedisConnection(cfg)
	manager := database.NewRedisSessionManager(client)
	if err := manager.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr()))
	return manager, client.Close, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	revocations, closeRevocations, err := openRevocations(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRevocations()

	objects, err := storage.NewS3Storage(ctx, cfg)
	if err != nil {
		return err
	}

	captioner, err := caption.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}
	defer captioner.Close()

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL, revocations)
	gallery := services.NewGalleryService(store, objects, captioner, logger)

	mux := http.NewServeMux()
	handler := handlers.NewHandler(mux, handlers.Dependencies{
		Store:          store,
		Gallery:        gallery,
		Tokens:         tokens,
		Logger:         logger,
		CookieSecure:   cfg.CookieSecure,
		ClientOrigin:   cfg.ClientOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	handler.RegisterHandlers()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.Port),
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
