// cmd/auth/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/logger"
	"github.com/davidshare/ObservaShop/internal/auth/app"
	"github.com/davidshare/ObservaShop/internal/auth/config"
)

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "config/auth.yaml", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting auth",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
		zap.String("config.path", configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("auth: shutdown complete")
		} else {
			log.Error("auth exited with error", zap.Error(err))
			os.Exit(1)
		}
	}

	log.Info("auth shut down cleanly")
}
