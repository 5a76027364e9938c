package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayusman/binsight/internal/app"
	"github.com/ayusman/binsight/internal/config"
	"github.com/ayusman/binsight/internal/logger"
)

func main() {
	fmt.Println("BinSight - Trash Detection")

	cfg := config.Load()

	logg, err := logger.New(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Close()

	application, err := app.New(cfg, logg)
	if err != nil {
		logg.Error("Failed to start: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logg.Error("Server failed: %v", err)
		os.Exit(1)
	}
	logg.Info("Server stopped")
}
