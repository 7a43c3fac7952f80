// Command dispatcherd is the long-running RSA-operation dispatcher
// daemon: it discovers backends, serves RsaOp over the admin API's
// POST /rsa-op route, and exposes health, metrics, and live backend state to
// operators. Wiring follows cmd/sprintd/main.go's shape: load config,
// build a logger, construct the long-lived pieces, start the HTTP
// surface in a goroutine, then block on WaitForShutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/breaker"
	"github.com/PayRpc/accessl-dispatch/internal/config"
	"github.com/PayRpc/accessl-dispatch/internal/discovery"
	"github.com/PayRpc/accessl-dispatch/internal/dispatcher"
	"github.com/PayRpc/accessl-dispatch/internal/httpapi"
	"github.com/PayRpc/accessl-dispatch/internal/wsstream"
)

func main() {
	cfg := config.Load()
	logger := initLogger(cfg)
	defer logger.Sync()

	br := breaker.New(breaker.Config{
		MaxConsecutiveTimeouts: cfg.BreakerMaxConsecutiveTimeouts,
		ResetTimeout:           cfg.BreakerResetTimeout,
	}, logger)

	table := backend.New(
		backend.WithBreaker(br),
		backend.WithLogger(logger),
	)

	transport := discovery.TCPTransport{Addr: cfg.DiscoveryAddr, Timeout: cfg.DiscoveryTimeout}
	discoveryClient := discovery.New(transport, table, logger)

	ctx, cancel := context.WithCancel(context.Background())

	if err := discoveryClient.Refresh(ctx); err != nil {
		logger.Warn("initial discovery refresh failed, starting with an empty backend table", zap.Error(err))
	}
	go discoveryClient.Run(ctx, cfg.DiscoveryInterval)

	disp := dispatcher.New(table, dispatcher.WithLogger(logger))

	hub := wsstream.New(table, logger)
	wsDone := make(chan struct{})
	go hub.Run(wsDone, cfg.WSBroadcastInterval)

	admin := httpapi.New(table, hub, disp, br, httpapi.Config{
		RateLimitRPS:   cfg.AdminRateLimitRPS,
		RateLimitBurst: cfg.AdminRateLimitBurst,
		CallBudget:     cfg.CallBudget,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: admin.Engine(),
	}

	go func() {
		logger.Info("admin API listening", zap.String("addr", cfg.AdminAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin API failed to start", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	close(wsDone)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin API shutdown did not complete cleanly", zap.Error(err))
	}

	logger.Info("dispatcherd shutdown complete")
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down dispatcherd")
}

// initLogger mirrors cmd/sprintd's initLogger: production JSON config by
// default, a more readable development config when LogJSON is disabled.
func initLogger(cfg config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)

	level, levelErr := zapcore.ParseLevel(cfg.LogLevel)
	if levelErr != nil {
		level = zapcore.InfoLevel
	}

	if cfg.LogJSON {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zcfg.Build()
	} else {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zcfg.Build()
	}

	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return logger
}
