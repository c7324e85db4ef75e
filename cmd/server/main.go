// Package main is the entry point for the DocChat HTTP server. It loads
// configuration, builds the components once and serves until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/docchat/internal/app"
	"github.com/dharsanguruparan/docchat/internal/config"
)

func main() {
	// A .env file is optional; real environment variables still win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// The context cancels when SIGINT/SIGTERM arrive, which stops the HTTP
	// server and the ingestion workers together.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()
	a.Start(ctx)

	srv, err := a.Server()
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	if err := srv.Serve(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		a.Close()
		os.Exit(1)
	}
	if a.Processor != nil {
		a.Processor.Wait()
	}
}
