package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/qctrack/backend/internal/api"
	"github.com/qctrack/backend/internal/config"
	"github.com/qctrack/backend/internal/excel"
	"github.com/qctrack/backend/internal/ingest"
	"github.com/qctrack/backend/internal/observability"
	"github.com/qctrack/backend/internal/orderkey"
	"github.com/qctrack/backend/internal/progress"
	"github.com/qctrack/backend/internal/sanitize"
	"github.com/qctrack/backend/internal/storage"
	"github.com/qctrack/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := storage.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	store := storage.NewGormStore(db, logger)
	if err := store.AutoMigrate(); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	schema, err := sanitize.LoadSchema(cfg.FieldSchemaPath)
	if err != nil {
		logger.Fatal("field schema load failed", zap.Error(err))
	}

	hub := progress.NewHub(logger)
	coordinator := upload.NewCoordinator(
		hub,
		excel.NewParser(),
		ingest.New(store, logger),
		sanitize.New(schema),
		store,
		logger,
		upload.Options{
			BatchSize:      cfg.BatchSize,
			ProcessTimeout: time.Duration(cfg.ProcessTimeout) * time.Minute,
			SessionTTL:     time.Duration(cfg.SessionTTLMin) * time.Minute,
		},
	)
	resolver := orderkey.NewResolver(store)

	// Background sweep for abandoned chunked sessions.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.CleanupInterval) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				coordinator.CleanupStale()
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.NewErrorHandler(logger)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || strings.Contains(path, "/progress/")
		},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit()))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: splitOrigins(cfg.AllowOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-User-Id"},
	}))
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: 30 * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.Contains(path, "/progress/") ||
				strings.Contains(path, "/ws/") ||
				strings.Contains(path, "/upload/") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
	}))

	handlers := api.NewHandlers(&api.Dependencies{
		Coordinator: coordinator,
		Hub:         hub,
		Orders:      resolver,
		MaxBytes:    cfg.MaxUploadBytes(),
		Version:     Version,
	})
	api.RegisterRoutes(e, handlers)

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("version", Version),
		zap.String("buildTime", BuildTime))

	go func() {
		if err := e.Start(cfg.Addr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
