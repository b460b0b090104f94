package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nattapongw/ktw-product-api/config"
	"github.com/nattapongw/ktw-product-api/scraper"
	"github.com/nattapongw/ktw-product-api/server"
	"github.com/nattapongw/ktw-product-api/session"
)

func main() {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file (optional)")
	listenAddr := flag.String("addr", "", "Listen address override")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *verbose {
		cfg.Verbose = true
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	table, err := config.LoadDiscountTable(cfg.DiscountTablePath)
	if err != nil {
		slog.Error("loading discount table", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("discount table loaded",
		slog.String("path", cfg.DiscountTablePath),
		slog.Int("brands", table.Len()),
	)

	sess, err := session.NewProvider(cfg)
	if err != nil {
		slog.Error("initialising session provider", slog.Any("error", err))
		os.Exit(1)
	}

	fetcher := scraper.New(cfg, sess, table)
	cache := server.NewResultCache(cfg.CacheSize, cfg.CacheTTL)
	handler := server.NewHandler(cfg, fetcher, sess, cache, fetcher.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the session so the first request does not pay for a login. A
	// failure here is not fatal: the site may be briefly down.
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := sess.Login(warmCtx); err != nil {
		slog.Warn("initial login failed, will retry lazily", slog.Any("error", err))
	}
	cancel()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(handler, fetcher.Metrics.Registry),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		slog.Info("server listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Int("max_workers", cfg.MaxWorkers),
			slog.Bool("cache", cache != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining connections")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
