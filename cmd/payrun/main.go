package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"payrun/internal/cli"
	"payrun/internal/platform/config"
	"payrun/internal/platform/logger"
)

func main() {
	cfg := config.Load()
	if err := logger.Setup(logger.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Printf("Warning: invalid log configuration, using defaults: %v", err)
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cfg)
	stop()
	os.Exit(code)
}
