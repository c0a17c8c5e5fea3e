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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/database"
	"github.com/tenantly/portal/backend/handler"
	"github.com/tenantly/portal/backend/pkg/logger"
	"github.com/tenantly/portal/backend/pkg/metrics"
	"github.com/tenantly/portal/backend/service"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "portal",
		Short:         "Tenant portal backend",
		Long:          `Tenant portal backend serving maintenance requests, tenant/landlord chat and billing history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")

	rootCmd.AddCommand(newServeCommand(), newMigrateCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			if seed {
				return database.Seed(cmd.Context(), db, &cfg.Seed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Create the landlords, properties and tenants listed in the config")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded successfully", "path", configPath)

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret (or PORTAL_JWT_SECRET) must be set")
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("database ready", "driver", cfg.Database.Driver)
	return db, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	m := metrics.New("portal")
	store := service.NewStore(db)

	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		return fmt.Errorf("failed to initialize MINIO service: %w", err)
	}
	// uploads degrade per file, so a missing bucket is not fatal at startup
	if err := minioSvc.EnsureBucket(ctx); err != nil {
		slog.Warn("failed to ensure MINIO bucket", "bucket", cfg.Minio.Bucket, "error", err)
	}

	checks := map[string]handler.Pinger{"database": sqlDB}

	var bus service.ChatBus = service.NewLocalBus()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		redisBus := service.NewRedisBus(client, cfg.Redis.Channel)
		go func() {
			if err := redisBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("chat relay stopped", "error", err)
			}
		}()
		bus = redisBus
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		slog.Info("chat fan-out over redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	chat := service.NewChatService(store, minioSvc, bus, m)
	maintenance := service.NewMaintenanceService(maintenanceDeps(cfg, store, minioSvc, chat, m))

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.Handlers{
		Auth:        handler.NewAuthHandler(store, &cfg.Auth),
		Maintenance: handler.NewMaintenanceHandler(maintenance, cfg.Server.MaxUploadMB),
		Messages:    handler.NewMessageHandler(chat, 0),
		Billing:     handler.NewBillingHandler(store),
		Health:      handler.NewHealthHandler(checks),
		Metrics:     m,
	}, handler.RouterConfig{
		Auth:            &cfg.Auth,
		RateLimit:       cfg.Server.RateLimit,
		SubmitRateLimit: cfg.Server.SubmitRateLimit,
	})

	// WriteTimeout stays zero so chat streams are not cut off
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}

// maintenanceDeps leaves a remote stage unset when its endpoint is not
// configured so the pipeline goes straight to the local fallback.
func maintenanceDeps(cfg *config.Config, store *service.Store, files *service.MinioService, chat *service.ChatService, m *metrics.Metrics) service.MaintenanceDeps {
	deps := service.MaintenanceDeps{
		Store:          store,
		Uploader:       files,
		Notifier:       chat,
		Metrics:        m,
		TargetLanguage: service.ParseLanguage(cfg.AI.TargetLanguage),
	}

	ai := service.NewAIService(&cfg.AI)
	if cfg.AI.AnalysisURL != "" {
		deps.Images = ai
		deps.Analyzer = ai
	}
	if cfg.AI.ProcedureURL != "" {
		deps.Procedures = ai
	}
	if cfg.AI.TranslationURL != "" {
		deps.Translator = ai
	}
	slog.Info("maintenance pipeline configured",
		"image_analysis", deps.Images != nil,
		"procedures", deps.Procedures != nil,
		"translation", deps.Translator != nil,
		"language", deps.TargetLanguage,
	)
	return deps
}
