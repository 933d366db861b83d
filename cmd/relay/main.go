package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Pugazh0602/shoadowchat/internal/config"
	"github.com/Pugazh0602/shoadowchat/internal/identity"
	"github.com/Pugazh0602/shoadowchat/internal/logging"
	"github.com/Pugazh0602/shoadowchat/internal/room"
	"github.com/Pugazh0602/shoadowchat/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := room.NewInMemory()
	presence := identity.NewRegistry()
	srv := server.NewServer(cfg, logger, reg, presence)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
