package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/sx-copybot/internal/bot"
	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/copybot.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Bootstrap logger until the config says otherwise
	logger := newLogger(os.Stdout, config.LogConfig{Level: "info"})
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(os.Stdout, cfg.Log).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting copybot",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"accounts", len(cfg.Accounts),
		"api_url", cfg.API.RestURL,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("copybot exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("copybot stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bot.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHandler(b, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	reason := "signal"
	if err := b.Start(ctx); err != nil {
		logger.Error("failed to start bot", "error", err)
		reason = "start failed"
	} else {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case <-b.Stopping():
			reason = "feed failed"
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()

	shutdownErr := b.Shutdown(shutdownCtx, reason)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	if reason != "signal" {
		return errors.Join(errors.New(reason), shutdownErr)
	}
	return shutdownErr
}

// createHandler serves health checks and Prometheus metrics.
func createHandler(b *bot.Bot, metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", b.HealthHandler())
	if m := b.Metrics(); m != nil {
		mux.Handle(metricsPath, m.Handler())
	}
	return mux
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
