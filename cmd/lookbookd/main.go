// ABOUTME: Entrypoint for the lookbook server: loads configuration, wires stores and provider adapters,
// ABOUTME: and runs the HTTP server with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lookbook-studio/lookbook/config"
	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/orchestrator"
	"github.com/lookbook-studio/lookbook/store"
	"github.com/lookbook-studio/lookbook/tryon"
	"github.com/lookbook-studio/lookbook/web"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	envFile := flag.String("env-file", ".env", "Path to .env file with defaults")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lookbookd %s\n", version)
		os.Exit(0)
	}

	// .env values never override explicit environment variables.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("component=main action=dotenv_load_failed path=%s err=%v", *envFile, err)
	}

	if err := run(); err != nil {
		log.Printf("component=main action=fatal err=%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	runs, err := store.NewFSRunStore(filepath.Join(cfg.Home, "runs"))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	artifacts := store.NewArtifactStore(runs)

	calls, err := history.OpenCallLog(filepath.Join(cfg.Home, "calls.jsonl"), cfg.HistoryMax)
	if err != nil {
		return fmt.Errorf("open call log: %w", err)
	}
	defer func() { _ = calls.Close() }()

	index, err := history.OpenCallIndex(filepath.Join(cfg.Home, "index.db"))
	if err != nil {
		return fmt.Errorf("open call index: %w", err)
	}
	defer func() { _ = index.Close() }()
	if err := index.RebuildFromLog(calls); err != nil {
		return fmt.Errorf("rebuild call index: %w", err)
	}
	calls.SetIndex(index)

	if cfg.HistoryMaxAge > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.HistoryMaxAge) * 24 * time.Hour)
		if dropped, err := calls.PruneOlderThan(cutoff); err != nil {
			log.Printf("component=main action=history_prune_failed err=%v", err)
		} else if dropped > 0 {
			log.Printf("component=main action=history_pruned dropped=%d", dropped)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := orchestrator.NewMetrics(registry)

	orch := orchestrator.New(runs, artifacts, calls, buildProviders(cfg), metrics)

	server := web.NewServer(web.ServerConfig{
		Addr:      cfg.Bind,
		AuthToken: cfg.AuthToken,
		Registry:  registry,
	}, runs, orch, calls)

	httpServer := server.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Printf("component=main action=listen addr=%s version=%s", cfg.Bind, version)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Printf("component=main action=shutdown signal=%s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// buildProviders constructs the three provider adapters from configuration.
// Providers without an API key are still constructed; their requests will be
// rejected upstream, which surfaces as a normal ServiceError.
func buildProviders(cfg *config.Config) map[tryon.ProviderTag]tryon.Provider {
	providers := make(map[tryon.ProviderTag]tryon.Provider, 3)

	fashn := cfg.Providers[tryon.ProviderFASHN]
	fashnOpts := []tryon.FASHNOption{
		tryon.WithFASHNPoller(fashn.Poller()),
		tryon.WithFASHNLimiter(fashn.Limiter()),
		tryon.WithFASHNTimeout(fashn.Timeout()),
	}
	if fashn.BaseURL != "" {
		fashnOpts = append(fashnOpts, tryon.WithFASHNBaseURL(fashn.BaseURL))
	}
	providers[tryon.ProviderFASHN] = tryon.NewFASHNAdapter(fashn.APIKey, fashnOpts...)

	kling := cfg.Providers[tryon.ProviderKling]
	klingOpts := []tryon.KlingOption{
		tryon.WithKlingPoller(kling.Poller()),
		tryon.WithKlingLimiter(kling.Limiter()),
		tryon.WithKlingTimeout(kling.Timeout()),
	}
	if kling.BaseURL != "" {
		klingOpts = append(klingOpts, tryon.WithKlingBaseURL(kling.BaseURL))
	}
	providers[tryon.ProviderKling] = tryon.NewKlingAdapter(kling.APIKey, klingOpts...)

	huhu := cfg.Providers[tryon.ProviderHuhu]
	huhuOpts := []tryon.HuhuOption{
		tryon.WithHuhuPoller(huhu.Poller()),
		tryon.WithHuhuLimiter(huhu.Limiter()),
		tryon.WithHuhuTimeout(huhu.Timeout()),
	}
	if huhu.BaseURL != "" {
		huhuOpts = append(huhuOpts, tryon.WithHuhuBaseURL(huhu.BaseURL))
	}
	providers[tryon.ProviderHuhu] = tryon.NewHuhuAdapter(huhu.APIKey, huhuOpts...)

	return providers
}
