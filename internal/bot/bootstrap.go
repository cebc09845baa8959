package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/auth"
	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/connection"
	"github.com/rickgao/sx-copybot/internal/database"
	"github.com/rickgao/sx-copybot/internal/market"
	"github.com/rickgao/sx-copybot/internal/metrics"
	"github.com/rickgao/sx-copybot/internal/telemetry"
	"github.com/rickgao/sx-copybot/internal/version"
)

// Bootstrap builds a production bot from cfg: the exchange client, the
// signer, the market cache, the feed, metrics and, when enabled, the
// database audit trail. The bot is returned unstarted.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := api.NewClient(cfg.API.RestURL, cfg.API.APIKey,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithUserAgent(version.UserAgent()),
		api.WithLogger(logger),
	)

	meta, err := client.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange metadata: %w", err)
	}

	// Configured values win over exchange metadata.
	resolved := *cfg
	if resolved.Wallet.Executor == "" {
		resolved.Wallet.Executor = meta.ExecutorAddress
	}
	if resolved.Wallet.LadderStep == 0 {
		resolved.Wallet.LadderStep = meta.OddsLadderStepSize
	}

	signer, err := auth.NewSigner(auth.Config{
		PrivateKey:    resolved.Wallet.PrivateKey,
		ChainID:       resolved.Wallet.ChainID,
		Executor:      resolved.Wallet.Executor,
		DomainVersion: meta.DomainVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	marketCfg := market.DefaultConfig()
	if cfg.API.Timeout > 0 {
		marketCfg.Timeout = requestTimeout(cfg.API)
	}
	markets := market.NewCache(marketCfg, client, logger)

	feed := connection.NewManager(managerConfig(&resolved), logger)

	deps := Deps{
		Feed:     feed,
		Exchange: client,
		Signer:   signer,
		Markets:  markets,
		Metrics:  metrics.New(),
	}

	if cfg.Telemetry.Audit.Enabled {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect audit database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate audit database: %w", err)
		}

		auditCfg := telemetry.DefaultAuditConfig()
		if cfg.Telemetry.Audit.BatchSize > 0 {
			auditCfg.BatchSize = cfg.Telemetry.Audit.BatchSize
		}
		if cfg.Telemetry.Audit.FlushInterval > 0 {
			auditCfg.FlushInterval = cfg.Telemetry.Audit.FlushInterval
		}
		audit := telemetry.NewAuditWriter(auditCfg, pool, logger)
		audit.Start(context.Background())

		deps.Sinks = append(deps.Sinks, audit)
		deps.Closers = append(deps.Closers,
			audit.Stop,
			func(context.Context) error {
				pool.Close()
				return nil
			},
		)
		logger.Info("audit trail enabled", "database", cfg.Database.Name)
	}

	logger.Info("exchange metadata resolved",
		"executor", resolved.Wallet.Executor,
		"ladder_step", resolved.Wallet.LadderStep,
		"domain_version", meta.DomainVersion,
	)

	return New(&resolved, deps, logger)
}

// managerConfig converts the connection section of the config.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Client.URL = cfg.API.WSURL
	mc.Client.APIKey = cfg.API.APIKey
	mc.Client.UserAgent = version.UserAgent()

	c := cfg.Connection
	if c.ConnectTimeout > 0 {
		mc.ConnectTimeout = c.ConnectTimeout
		mc.Client.HandshakeTimeout = c.ConnectTimeout
	}
	if c.SubscribeTimeout > 0 {
		mc.SubscribeTimeout = c.SubscribeTimeout
	}
	if c.ReconnectBaseDelay > 0 {
		mc.ReconnectBaseDelay = c.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts > 0 {
		mc.MaxReconnectAttempts = c.MaxReconnectAttempts
	}
	if c.PingInterval > 0 {
		mc.Client.PingInterval = c.PingInterval
	}
	if c.PingTimeout > 0 {
		mc.Client.PingTimeout = c.PingTimeout
	}
	if c.WriteTimeout > 0 {
		mc.Client.WriteTimeout = c.WriteTimeout
	}
	return mc
}
