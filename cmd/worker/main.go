// Package main runs ingestion jobs from the asynq queue, for deployments
// where the server is configured with DOCCHAT_DISPATCHER=asynq.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/docchat/internal/app"
	"github.com/dharsanguruparan/docchat/internal/config"
	"github.com/dharsanguruparan/docchat/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Dispatcher != config.BackendAsynq {
		log.Fatalf("worker requires DOCCHAT_DISPATCHER=%s, got %q", config.BackendAsynq, cfg.Dispatcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.IngestWorkers,
	})
	processor := worker.NewProcessor(a.Pipeline)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("worker consuming ingestion jobs from %s", cfg.RedisAddr)
	if err := server.Run(processor.Handler()); err != nil {
		log.Printf("worker stopped: %v", err)
		a.Close()
		os.Exit(1)
	}
}
