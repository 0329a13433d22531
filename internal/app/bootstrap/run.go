package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Apurer/order-saga/internal/app/config"
	"github.com/Apurer/order-saga/internal/platform/observability"
)

// Builder assembles a service on infra and returns its HTTP handler (nil for none) and loops.
type Builder func(ctx context.Context, infra *Infra) (http.Handler, []Loop, error)

// Run loads configuration, initialises observability, opens infrastructure, builds the
// service and serves it until ctx is cancelled.
func Run(ctx context.Context, service string, build Builder) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	instruments, shutdown, err := observability.Init(ctx, service, observability.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()

	infra, err := Open(ctx, cfg, instruments, service)
	if err != nil {
		return err
	}
	defer infra.Close()

	handler, loops, err := build(ctx, infra)
	if err != nil {
		return err
	}
	return infra.Serve(ctx, cfg.Addr(), handler, loops...)
}
