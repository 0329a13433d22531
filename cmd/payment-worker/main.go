package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Apurer/order-saga/internal/app/bootstrap"
	"github.com/Apurer/order-saga/internal/app/payments"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.Run(ctx, payments.WorkerName, payments.BuildWorker); err != nil {
		log.Fatalf("payment worker exited: %v", err)
	}
}
