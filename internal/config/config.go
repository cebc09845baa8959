package config

import "time"

// Config is the root configuration for a copy bot instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Accounts   []string         `yaml:"accounts"` // Source accounts to copy
	Connection ConnectionConfig `yaml:"connection"`
	Copy       CopyConfig       `yaml:"copy"`
	Filters    FilterConfig     `yaml:"filters"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Database   DBConfig         `yaml:"database"` // Audit sink, only used when telemetry.audit.enabled
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

// InstanceConfig identifies this bot.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds exchange endpoint settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// WalletConfig holds the signing identity.
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"` // Hex secp256k1 key, usually ${COPYBOT_PRIVATE_KEY}
	ChainID    int64  `yaml:"chain_id"`
	BaseToken  string `yaml:"base_token"`  // Stake token address
	Executor   string `yaml:"executor"`    // Overrides the executor from exchange metadata
	LadderStep uint64 `yaml:"ladder_step"` // 0 = use exchange metadata
}

// ConnectionConfig holds real-time feed settings.
type ConnectionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SubscribeTimeout     time.Duration `yaml:"subscribe_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// CopyConfig holds transform and submit settings.
type CopyConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Delay              time.Duration `yaml:"delay"`
	Concurrency        int           `yaml:"concurrency"`
	OrderTTL           time.Duration `yaml:"order_ttl"`
	CancelOnSourceFill *bool         `yaml:"cancel_on_source_fill"`
	Price              PriceConfig   `yaml:"price"`
	Stake              StakeConfig   `yaml:"stake"`
}

// CancelsOnSourceFill reports whether a filled source cascades a cancel.
func (c CopyConfig) CancelsOnSourceFill() bool {
	return c.CancelOnSourceFill == nil || *c.CancelOnSourceFill
}

// Price adjustment methods.
const (
	PriceMethodPercentage = "percentage"
	PriceMethodSteps      = "steps"
	PriceMethodNone       = "none"
)

// PriceConfig selects how the copied price is derived from the source.
type PriceConfig struct {
	Method      string  `yaml:"method"`
	Percentage  float64 `yaml:"percentage"`
	Steps       int64   `yaml:"steps"`
	ForceLadder bool    `yaml:"force_ladder"`
}

// Stake sizing methods.
const (
	StakeMethodPercentage = "percentage"
	StakeMethodFixed      = "fixed"
	StakeMethodNone       = "none"
)

// StakeConfig selects how the copied stake is derived from the source.
type StakeConfig struct {
	Method     string  `yaml:"method"`
	Percentage float64 `yaml:"percentage"`
	Min        Amount  `yaml:"min"`
	Max        Amount  `yaml:"max"` // Zero = unbounded
}

// FilterConfig restricts which source orders are copied.
// Empty lists mean no restriction.
type FilterConfig struct {
	SportIDs       []int       `yaml:"sport_ids"`
	MarketTypes    []int       `yaml:"market_types"`
	LeagueIDs      []int       `yaml:"league_ids"`
	ExcludeParlays bool        `yaml:"exclude_parlays"`
	ExcludeLive    bool        `yaml:"exclude_live"`
	MinOdds        Probability `yaml:"min_odds"`
	MaxOdds        Probability `yaml:"max_odds"`
}

// TelemetryConfig holds telemetry sink settings.
type TelemetryConfig struct {
	QueueSize        int           `yaml:"queue_size"`
	ExposureInterval time.Duration `yaml:"exposure_interval"`
	Audit            AuditConfig   `yaml:"audit"`
}

// AuditConfig holds the optional database audit trail settings.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ShutdownConfig holds teardown settings.
type ShutdownConfig struct {
	Grace     time.Duration `yaml:"grace"`      // Time allowed for in-flight copies to finish
	Timeout   time.Duration `yaml:"timeout"`    // Hard limit on the whole teardown
	CancelAll bool          `yaml:"cancel_all"` // Cancel every derived order before exiting
}
