package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tcmdiag/internal/gateway/app"
	"tcmdiag/internal/observability"
)

func main() {
	a, err := app.New()
	if err != nil {
		observability.Logger().Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	log := observability.Component("main")

	go func() {
		if err := a.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exiting")
}
