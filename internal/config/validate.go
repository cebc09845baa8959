package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/rickgao/sx-copybot/internal/odds"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}

	if err := c.Wallet.validate(); err != nil {
		return err
	}

	if len(c.Accounts) == 0 {
		return errors.New("accounts must list at least one address")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acct := range c.Accounts {
		if !common.IsHexAddress(acct) {
			return fmt.Errorf("accounts[%d] is not a valid address: %q", i, acct)
		}
		key := strings.ToLower(acct)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("accounts[%d] is a duplicate: %q", i, acct)
		}
		seen[key] = struct{}{}
	}

	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be positive")
	}

	if err := c.Copy.validate(); err != nil {
		return err
	}
	if err := c.Filters.validate(); err != nil {
		return err
	}

	if c.Telemetry.QueueSize < 1 {
		return errors.New("telemetry.queue_size must be >= 1")
	}
	if c.Telemetry.Audit.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Shutdown.Grace > c.Shutdown.Timeout {
		return fmt.Errorf("shutdown.grace (%v) cannot exceed shutdown.timeout (%v)", c.Shutdown.Grace, c.Shutdown.Timeout)
	}

	return nil
}

func (w *WalletConfig) validate() error {
	if w.PrivateKey == "" {
		return errors.New("wallet.private_key is required")
	}
	if _, err := crypto.HexToECDSA(strings.TrimPrefix(w.PrivateKey, "0x")); err != nil {
		return fmt.Errorf("wallet.private_key is invalid: %w", err)
	}
	if w.ChainID < 1 {
		return errors.New("wallet.chain_id must be >= 1")
	}
	if !common.IsHexAddress(w.BaseToken) {
		return fmt.Errorf("wallet.base_token is not a valid address: %q", w.BaseToken)
	}
	if w.Executor != "" && !common.IsHexAddress(w.Executor) {
		return fmt.Errorf("wallet.executor is not a valid address: %q", w.Executor)
	}
	return nil
}

func (c *CopyConfig) validate() error {
	if c.Concurrency < 1 {
		return errors.New("copy.concurrency must be >= 1")
	}
	if c.Delay < 0 {
		return errors.New("copy.delay cannot be negative")
	}
	if c.OrderTTL <= 0 {
		return errors.New("copy.order_ttl must be positive")
	}

	switch c.Price.Method {
	case PriceMethodPercentage:
		if c.Price.Percentage <= -100 {
			return fmt.Errorf("copy.price.percentage must be > -100, got %v", c.Price.Percentage)
		}
	case PriceMethodSteps, PriceMethodNone:
	default:
		return fmt.Errorf("copy.price.method must be percentage, steps or none, got %q", c.Price.Method)
	}

	switch c.Stake.Method {
	case StakeMethodPercentage:
		if c.Stake.Percentage < 0 || c.Stake.Percentage > odds.MaxStakePercentage {
			return fmt.Errorf("copy.stake.percentage must be between 0 and %d, got %v", odds.MaxStakePercentage, c.Stake.Percentage)
		}
	case StakeMethodFixed:
		if c.Stake.Min.IsZero() {
			return errors.New("copy.stake.min is required for the fixed stake method")
		}
	case StakeMethodNone:
	default:
		return fmt.Errorf("copy.stake.method must be percentage, fixed or none, got %q", c.Stake.Method)
	}

	if !c.Stake.Max.IsZero() && c.Stake.Min.Int().Gt(c.Stake.Max.Int()) {
		return fmt.Errorf("copy.stake.min (%s) cannot exceed copy.stake.max (%s)", c.Stake.Min, c.Stake.Max)
	}
	return nil
}

func (f *FilterConfig) validate() error {
	one := decimal.NewFromInt(1)
	for _, p := range []struct {
		name string
		v    Probability
	}{{"filters.min_odds", f.MinOdds}, {"filters.max_odds", f.MaxOdds}} {
		if p.v.IsNegative() || p.v.GreaterThan(one) {
			return fmt.Errorf("%s must be between 0 and 1, got %s", p.name, p.v.String())
		}
	}
	if f.MinOdds.GreaterThan(f.MaxOdds.Decimal) {
		return fmt.Errorf("filters.min_odds (%s) cannot exceed filters.max_odds (%s)", f.MinOdds.String(), f.MaxOdds.String())
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
