package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	"github.com/Apurer/order-saga/internal/app/orders"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.Run(ctx, orders.ServiceName, orders.Build); err != nil {
		log.Fatalf("order service exited: %v", err)
	}
}
