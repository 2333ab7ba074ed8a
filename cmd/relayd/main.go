package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chat-relay/chat-relay/internal/config"
	"github.com/chat-relay/chat-relay/internal/logging"
	"github.com/chat-relay/chat-relay/internal/server"
	"github.com/chat-relay/chat-relay/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	chats, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("open chat store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Store.SeedDemo {
		if err := store.SeedDemoData(ctx, chats, time.Now()); err != nil {
			logger.Fatal("seed demo data", zap.Error(err))
		}
		logger.Info("demo data seeded", zap.String("path", cfg.Store.Path))
	}

	srv := server.NewRelayServer(cfg, logger, chats)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
