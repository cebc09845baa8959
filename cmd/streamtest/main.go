// streamtest connects to the order feed and prints classified order updates
// for the configured source accounts without copying anything.
// Usage: go run ./cmd/streamtest --config configs/copybot.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/connection"
	"github.com/rickgao/sx-copybot/internal/ingest"
	"github.com/rickgao/sx-copybot/internal/market"
	"github.com/rickgao/sx-copybot/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/copybot.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full order JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Only the API, wallet and filter sections matter here, so skip validation.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Accounts) == 0 {
		logger.Error("no accounts configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.API.RestURL, cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithUserAgent(version.UserAgent()),
	)
	markets := market.NewCache(market.DefaultConfig(), client, logger)

	connCfg := connection.DefaultManagerConfig()
	connCfg.Client.URL = cfg.API.WSURL
	connCfg.Client.APIKey = cfg.API.APIKey
	connCfg.Client.UserAgent = version.UserAgent()
	feed := connection.NewManager(connCfg, logger)

	stageCfg := ingest.DefaultConfig()
	stageCfg.BaseToken = cfg.Wallet.BaseToken
	stageCfg.Filters = ingest.NewFilters(cfg.Filters)
	stage := ingest.NewStage(stageCfg, feed, markets, logger)

	logger.Info("connecting to feed", "url", cfg.API.WSURL)
	if err := feed.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, account := range cfg.Accounts {
		if err := stage.Watch(ctx, account); err != nil {
			logger.Error("failed to watch account", "account", account, "error", err)
			os.Exit(1)
		}
	}

	go printEvents(stage.Events(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ss := stage.Stats()
				cs := feed.Stats()
				logger.Info("stats",
					"feed_state", cs.State.String(),
					"received", cs.Received,
					"dropped", cs.Dropped,
					"updates", ss.Updates,
					"candidates", ss.Candidates,
					"filtered", ss.Filtered,
					"decode_errors", ss.DecodeErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "accounts", len(cfg.Accounts))

	select {
	case <-ctx.Done():
	case err := <-feed.Fatal():
		logger.Error("feed failed", "error", err)
	}

	logger.Info("shutting down...")
	stage.Close()
	feed.Disconnect()
	logger.Info("shutdown complete")
}

func printEvents(events <-chan ingest.Event, verbose bool) {
	for ev := range events {
		if verbose {
			data, _ := json.MarshalIndent(ev.Order, "", "  ")
			fmt.Printf("[%s] %s %s\n", ev.Kind, ev.Account, data)
			continue
		}

		line := fmt.Sprintf("[%s] account=%s order=%s market=%s odds=%s stake=%s",
			ev.Kind, ev.Account, ev.Order.Hash, ev.Order.MarketHash,
			ev.Order.PercentageOdds.Dec(), ev.Order.TotalBetSize.Dec())
		if ev.Reason != "" {
			line += " reason=" + ev.Reason
		}
		fmt.Println(line)
	}
}
