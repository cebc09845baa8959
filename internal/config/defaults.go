package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://api.sx.bet"
	DefaultWSURL                = "wss://realtime.sx.bet/ws"
	DefaultAPITimeout           = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryBackoff         = 500 * time.Millisecond
	DefaultChainID              = 4162
	DefaultConnectTimeout       = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultCopyConcurrency      = 8
	DefaultOrderTTL             = 30 * time.Minute
	DefaultPriceMethod          = PriceMethodNone
	DefaultStakeMethod          = StakeMethodNone
	DefaultTelemetryQueueSize   = 4096
	DefaultExposureInterval     = 1 * time.Minute
	DefaultAuditBatchSize       = 500
	DefaultAuditFlushInterval   = 2 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultShutdownGrace        = 10 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	if c.Wallet.ChainID == 0 {
		c.Wallet.ChainID = DefaultChainID
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.SubscribeTimeout == 0 {
		c.Connection.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	// Copy defaults
	if c.Copy.Concurrency == 0 {
		c.Copy.Concurrency = DefaultCopyConcurrency
	}
	if c.Copy.OrderTTL == 0 {
		c.Copy.OrderTTL = DefaultOrderTTL
	}
	if c.Copy.Price.Method == "" {
		c.Copy.Price.Method = DefaultPriceMethod
	}
	if c.Copy.Stake.Method == "" {
		c.Copy.Stake.Method = DefaultStakeMethod
	}

	// Filters: an unset upper bound admits everything
	if !c.Filters.MaxOdds.IsSet() {
		c.Filters.MaxOdds = Probability{Decimal: decimal.NewFromInt(1), set: true}
	}

	// Telemetry defaults
	if c.Telemetry.QueueSize == 0 {
		c.Telemetry.QueueSize = DefaultTelemetryQueueSize
	}
	if c.Telemetry.ExposureInterval == 0 {
		c.Telemetry.ExposureInterval = DefaultExposureInterval
	}
	if c.Telemetry.Audit.BatchSize == 0 {
		c.Telemetry.Audit.BatchSize = DefaultAuditBatchSize
	}
	if c.Telemetry.Audit.FlushInterval == 0 {
		c.Telemetry.Audit.FlushInterval = DefaultAuditFlushInterval
	}

	applyDBDefaults(&c.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	if c.Shutdown.Grace == 0 {
		c.Shutdown.Grace = DefaultShutdownGrace
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
