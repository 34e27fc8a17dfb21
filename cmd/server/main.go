// Command server runs the live commerce API and its background jobs.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livecommerce/internal/bootstrap"
	"livecommerce/internal/config"
	"livecommerce/internal/middleware"
)

// @title Live Commerce API
// @version 1.0
// @description Live shopping broadcasts: reservations, live sessions, reactions and VOD replays.

// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	env, err := config.LoadProviderEnv()
	if err != nil {
		log.Fatalf("Failed to load provider environment: %v", err)
	}
	if err := env.Validate(cfg.IsProduction()); err != nil {
		log.Fatalf("Invalid provider environment: %v", err)
	}
	middleware.InitMiddleware(cfg)

	rt, err := bootstrap.InitRuntime(cfg, env)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	rt.Scheduler.Start(jobsCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- rt.Server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Server stopped: %v", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stopJobs()
	rt.Scheduler.Stop()
	if err := rt.Server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		log.Printf("Resource shutdown error: %v", err)
	}
	os.Exit(exitCode)
}
