package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/api"
	"github.com/JakeFAU/event-dispatch/internal/app"
	"github.com/JakeFAU/event-dispatch/internal/clock/system"
	"github.com/JakeFAU/event-dispatch/internal/config"
	"github.com/JakeFAU/event-dispatch/internal/id/uuid"
	"github.com/JakeFAU/event-dispatch/internal/logging"
	"github.com/JakeFAU/event-dispatch/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		logger.Error("metrics init failed", zap.Error(err))
		return 1
	}

	ids := uuid.New()
	dispatchApp, err := app.New(ctx, cfg, app.Deps{
		Logger:  logger,
		Metrics: recorder,
		IDs:     ids,
		Clock:   system.New(),
	})
	if err != nil {
		logger.Error("app init failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := dispatchApp.Close(); err != nil {
			logger.Warn("app close failed", zap.Error(err))
		}
	}()

	var srv *http.Server
	if cfg.Server.Enabled {
		apiServer, err := api.NewServer(dispatchApp, api.Options{
			Gatherer:   reg,
			Recorder:   recorder,
			RequestIDs: ids,
			Logger:     logger,
		})
		if err != nil {
			logger.Error("api init failed", zap.Error(err))
			return 1
		}
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	exitCode := 0
	if _, err := dispatchApp.Run(ctx); err != nil {
		logger.Error("dispatch runs failed", zap.Error(err))
		exitCode = 1
	}

	if srv != nil {
		if ctx.Err() == nil {
			logger.Info("runs complete; serving reports until interrupted")
			<-ctx.Done()
		}
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return exitCode
}
