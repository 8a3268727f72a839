package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/wg-provisioner/internal/api/http"
	"github.com/EternisAI/wg-provisioner/internal/artifact"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/EternisAI/wg-provisioner/internal/notify"
	"github.com/EternisAI/wg-provisioner/internal/pool"
	"github.com/EternisAI/wg-provisioner/internal/registry"
	"github.com/EternisAI/wg-provisioner/internal/wireguard"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	InitConfig()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("WireGuard Provisioner", "version", AppVersion)

	if err := config.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := registry.Open(ctx, config.Registry)
	if err != nil {
		slog.Error("Failed to open registry", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	artifacts, err := artifact.NewStore(config.Artifacts.Dir)
	if err != nil {
		slog.Error("Failed to prepare artifact directory", "error", err)
		os.Exit(1)
	}

	addrPool, err := pool.New(config.Wireguard.Pool)
	if err != nil {
		slog.Error("Invalid address pool", "error", err)
		os.Exit(1)
	}
	slog.Info("Address pool ready",
		"prefix", addrPool.Prefix(),
		"gateway", addrPool.Gateway(),
		"size", addrPool.Size())

	sinks := []notify.Sink{notify.LogSink{}}
	if config.Notify.Telegram.Token != "" && len(config.Notify.Telegram.ChatIDs) > 0 {
		sinks = append(sinks, notify.NewTelegramSink(config.Notify.Telegram))
	}
	dispatcher := notify.NewDispatcher(config.Notify.QueueSize, sinks...)
	dispatcher.Start()

	manager := lifecycle.NewManager(lifecycle.Config{
		Server:        config.Wireguard.ServerParams,
		QRSize:        config.Artifacts.QRSize,
		Keepalive:     time.Duration(config.Wireguard.Keepalive) * time.Second,
		WarningHours:  config.Sweeper.WarningHours,
		RetainExpired: config.Sweeper.RetainExpired,
	}, lifecycle.Deps{
		Device:    wireguard.NewTool(config.Wireguard.ToolConfig),
		Pool:      addrPool,
		Registry:  store,
		Artifacts: artifacts,
		Catalog:   config.Plans,
		Publisher: dispatcher,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx, config.Sweeper.Interval)
	}()

	services := &internalhttp.Services{
		Manager: manager,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services, config.Http)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	shutdownTimeout := 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Stop the sweeper only after in-flight requests are done; a sweep in progress finishes first.
	cancel()
	wg.Wait()

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Warn("Notification queue not fully drained", "error", err)
	}

	slog.Info("Shutdown complete")
}
