package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/azure"
	"github.com/pulseloop/wearsync/internal/backup"
	"github.com/pulseloop/wearsync/internal/battery"
	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/handler"
	"github.com/pulseloop/wearsync/internal/middleware"
	"github.com/pulseloop/wearsync/internal/pipeline"
	"github.com/pulseloop/wearsync/internal/repository"
	"github.com/pulseloop/wearsync/internal/security"
	"github.com/pulseloop/wearsync/internal/syncer"
	"github.com/pulseloop/wearsync/internal/synclog"
	"github.com/pulseloop/wearsync/internal/wearable"
)

var (
	logger *zap.Logger
	pool   *pgxpool.Pool
	cfg    *config.Config
)

func main() {
	// Load configuration
	var err error
	cfg, err = config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize Zap logger
	if cfg.Server.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded successfully",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	// Initialize the health data store. Without a database URL the service
	// keeps synced points in memory only.
	var repo repository.HealthDataStore
	if cfg.Database.URL != "" {
		pool, err = pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(context.Background()); err != nil {
			logger.Fatal("Failed to ping database", zap.Error(err))
		}
		logger.Info("Successfully connected to database")

		repo = repository.NewPostgresStore(pool, logger)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory health data store")
		repo = repository.NewMemoryStore()
	}

	// Runtime sync configuration, persisted across restarts
	cfgManager := config.NewManagerFromFile(cfg.Backup.SyncConfigPath, cfg.Sync, logger)

	// Initialize the backup snapshot store
	var store backup.Store
	if cfgManager.Snapshot().Backup.StorageLocation == "azure" {
		blobClient, err := azure.NewBlobStorageClient(
			cfg.Azure.AccountName,
			cfg.Azure.AccountKey,
			cfg.Azure.BackupContainer,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Azure Blob Storage client", zap.Error(err))
		}
		store = backup.NewBlobStore(blobClient)
	} else {
		store, err = backup.NewFilesystemStore(cfg.Backup.Dir, logger)
		if err != nil {
			logger.Fatal("Failed to initialize backup directory", zap.Error(err))
		}
	}

	// Backup encryption is optional; the key is validated at config load
	var encryptor *security.Encryptor
	if cfg.Sync.EncryptData {
		encryptor, err = security.NewEncryptor([]byte(cfg.Security.EncryptionKey))
		if err != nil {
			logger.Fatal("Failed to initialize encryptor", zap.Error(err))
		}
	}

	backups := backup.NewManager(store, repo, cfgManager, encryptor, logger)

	// Battery state source, simulated when the host exposes no battery
	var provider battery.Provider
	provider, err = battery.NewSysfsProvider(logger)
	if err != nil {
		logger.Warn("No host battery found, battery optimization is inactive", zap.Error(err))
		provider = battery.NewSimulatedProvider(100, true)
	}
	optimizer := battery.NewOptimizer(provider, cfgManager, logger)

	// Initialize the sync engine
	syncLog := synclog.New(cfgManager.Snapshot().LogLevel, logger)
	syncManager := syncer.NewManager(
		cfgManager,
		repo,
		pipeline.NewValidator(),
		pipeline.NewNormalizer(),
		pipeline.NewAnomalyDetector(cfgManager.Snapshot().AnomalyThreshold),
		optimizer,
		backups,
		syncLog,
		cfg.User.ID,
		logger,
	)

	service := wearable.NewService(cfgManager, syncManager, backups, syncLog, logger)

	// Reconnect platforms that were configured before the restart
	for platform := range cfgManager.Snapshot().Platforms {
		if err := service.InitializeConnector(context.Background(), platform); err != nil {
			logger.Warn("Failed to reconnect platform",
				zap.String("platform", string(platform)),
				zap.Error(err),
			)
		}
	}

	// Start the background sync scheduler
	if err := service.StartSync(context.Background()); err != nil {
		logger.Fatal("Failed to start sync scheduler", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	r := gin.New()

	// Add recovery middleware (must be first)
	r.Use(middleware.RecoveryMiddleware(logger))

	// Add CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Configure appropriately for production
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Add request ID middleware
	r.Use(middleware.RequestIDMiddleware())

	// Add request logging middleware
	r.Use(middleware.RequestLoggingMiddleware(logger))

	// Add error logging middleware
	r.Use(middleware.ErrorLoggingMiddleware(logger))

	// Register API routes
	handler.RegisterRoutes(r, service, logger)
	r.GET("/health", getHealth)

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the scheduler first so no pass races the shutdown
	service.StopSync()

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if pool != nil {
		pool.Close()
	}

	logger.Info("Server exited")
}

// getHealth implements the health check endpoint
func getHealth(c *gin.Context) {
	ctx := c.Request.Context()

	if pool != nil {
		if err := pool.Ping(ctx); err != nil {
			logger.Error("health check failed: database unreachable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "disconnected",
				"error":    err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "wearsync",
		"version": "1.0.0",
	})
}
