package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"mtblotter/internal/app"
	"mtblotter/internal/config"
	"mtblotter/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Environment, cfg.LogLevel)

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}
