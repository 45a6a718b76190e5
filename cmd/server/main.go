/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the toolroom custody server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, optionally load a TOML config file
  2. Initialize the document store (memory or sqlite)
  3. Build the custody engine, registry, and inventory cache
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file (optional; defaults apply without one)
  -addr    Listen address, overrides the config file
  -db      SQLite database path; overrides the config file and selects the
           sqlite backend

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop cache watchers and close the store
  4. Exit

EXAMPLES:
  # In-memory store, defaults
  ./server

  # File-backed store
  ./server -db=./data/toolroom.db

  # Full config file
  ./server -config=./toolroom.toml

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/toolroom/api"
	"github.com/warp/toolroom/config"
	"github.com/warp/toolroom/custody"
	"github.com/warp/toolroom/docstore"
	"github.com/warp/toolroom/docstore/memory"
	"github.com/warp/toolroom/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.ReadFromFile(*configPath)
		if err != nil {
			zap.NewExample().Fatal("failed to load config", zap.Error(err))
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store = config.StoreConfig{Type: "sqlite", Path: *dbPath}
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	store, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer closeStore()

	engine := custody.NewEngine(store)
	engine.Log = log.Named("engine")
	registry := custody.NewRegistry(store)

	inventory := custody.NewInventoryCache(store, cfg.InventoryStaleAfter())
	if err := inventory.Start(context.Background()); err != nil {
		log.Fatal("failed to start inventory cache", zap.Error(err))
	}
	defer inventory.Stop()

	handler := api.NewHandler(registry, engine, inventory, log.Named("api"))
	handler.History = custody.NewHistoryCache(cfg.Cache.HistorySize, cfg.HistoryTTL())

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store.Type))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

func buildStore(cfg config.StoreConfig) (docstore.Store, func(), error) {
	switch cfg.Type {
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
