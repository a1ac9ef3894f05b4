package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talenttrade/backend/internal/grpc"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/di"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/observability"
	"talenttrade/backend/pkg/router"

	"gorm.io/gorm"
)

func main() {
	cfg := config.New()

	log := logger.New(logger.FromSettings(cfg.Logging.Level, cfg.Logging.Format))
	logger.SetGlobal(log)

	log.Info("Starting application",
		"version", cfg.Server.Version,
		"env", cfg.Server.Env,
		"storage", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var shutdowns []observability.Shutdown
	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Server.Version, os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
		} else {
			shutdowns = append(shutdowns, shutdown)
		}
	}
	if cfg.Observability.MetricsEnabled {
		shutdown, err := observability.SetupMetrics(cfg.Observability.ServiceName, cfg.Server.Version)
		if err != nil {
			log.LogError(err, "Failed to set up otel metrics")
		} else {
			shutdowns = append(shutdowns, shutdown)
		}
	}

	var db *gorm.DB
	if cfg.Storage.Driver != "memory" {
		var err error
		db, err = config.NewDB(cfg)
		if err != nil {
			log.LogError(err, "Failed to initialize database")
			os.Exit(1)
		}
		if err := repository.AutoMigrate(db); err != nil {
			log.LogError(err, "Failed to migrate database")
			os.Exit(1)
		}
	}

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	container.Health.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	go r.RateLimiter.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.LogError(err, "Failed to listen for gRPC", "port", cfg.Server.GRPCPort)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer(container.Health, log)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-errCh:
		log.LogError(err, "Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := container.Hub.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Realtime connections did not drain")
	}
	if err := observability.Combine(shutdowns...)(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
