package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Apurer/order-saga/internal/app/config"
	"github.com/Apurer/order-saga/internal/app/purger"
	platformpostgres "github.com/Apurer/order-saga/internal/platform/postgres"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	db, cleanup, err := platformpostgres.Open(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer cleanup()
	if db == nil {
		log.Fatal("POSTGRES_DSN not set; nothing to purge")
	}

	if _, err := purger.NewPostgres(db, cfg.Consumer.DedupWindow, logger).Run(ctx); err != nil {
		log.Fatalf("failed to purge: %v", err)
	}
}
