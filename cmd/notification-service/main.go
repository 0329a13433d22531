package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	"github.com/Apurer/order-saga/internal/app/notifications"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.Run(ctx, notifications.ServiceName, notifications.Build); err != nil {
		log.Fatalf("notification service exited: %v", err)
	}
}
