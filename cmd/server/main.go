package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/labmart/pos/configs"
	"github.com/labmart/pos/internal/adapter/handler"
	"github.com/labmart/pos/internal/adapter/storage"
	"github.com/labmart/pos/internal/core/service"
	"github.com/labmart/pos/internal/logging"
	"github.com/labmart/pos/internal/port"
)

func main() {
	configDir := flag.String("config", "./configs", "config directory")
	envName := flag.String("env", "dev", "environment overlay name")
	flag.Parse()

	cfg, err := configs.Load(*configDir, *envName)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.Init(cfg.App.Name, cfg.App.LogFile, logging.ParseLevel(cfg.App.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if cfg.DB.Driver == storage.DriverMySQL {
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := storage.EnsureSchema(ctx, db, cfg.DB.Driver); err != nil {
		log.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database", "driver", cfg.DB.Driver)

	// Redis request dedup is optional; without it retries are not deduped
	// but checkouts stay correct.
	var (
		rdb   *redis.Client
		cache port.CacheRepository
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		cache = storage.NewRedisAdapter(rdb, cfg.Idempotency.TTL)
		log.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Core services
	store := storage.NewSQLStore(db)
	checkoutService := service.NewCheckoutService(store, cache)
	reportService := service.NewReportService(store.Ledger())

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handler.RequestLogger(), handler.MetricsMiddleware())

	httpHandler := handler.NewHTTPHandler(checkoutService, reportService, store.Catalog())
	httpHandler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.App.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", "error", err)
	}
	log.Info("HTTP server stopped")

	if rdb != nil {
		_ = rdb.Close()
	}
	_ = db.Close()
	log.Info("connections closed")
}
