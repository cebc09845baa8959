package ingest

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/sx-copybot/internal/config"
	"github.com/rickgao/sx-copybot/internal/model"
	"github.com/rickgao/sx-copybot/internal/odds"
)

// Rejection reasons that do not carry a value.
const (
	ReasonMarketNotFound = "market not found"
	ReasonParlay         = "parlay market excluded"
	ReasonLive           = "live market excluded"
)

// Filters decides which source orders are worth copying. Empty lists place
// no restriction. A zero MaxOdds means no upper bound.
type Filters struct {
	SportIDs       []int
	MarketTypes    []int
	LeagueIDs      []int
	ExcludeParlays bool
	ExcludeLive    bool
	MinOdds        decimal.Decimal
	MaxOdds        decimal.Decimal
}

// NewFilters converts the filters section of the config.
func NewFilters(cfg config.FilterConfig) Filters {
	f := Filters{
		SportIDs:       cfg.SportIDs,
		MarketTypes:    cfg.MarketTypes,
		LeagueIDs:      cfg.LeagueIDs,
		ExcludeParlays: cfg.ExcludeParlays,
		ExcludeLive:    cfg.ExcludeLive,
	}
	if cfg.MinOdds.IsSet() {
		f.MinOdds = cfg.MinOdds.Decimal
	}
	if cfg.MaxOdds.IsSet() {
		f.MaxOdds = cfg.MaxOdds.Decimal
	}
	return f
}

// Check runs every filter against order in its market, stopping at the
// first failure. It returns "" when the order passes.
func (f Filters) Check(order model.Order, m model.Market, now time.Time) string {
	if len(f.SportIDs) > 0 && !slices.Contains(f.SportIDs, m.SportID) {
		return fmt.Sprintf("sport %d not allowed", m.SportID)
	}
	if len(f.MarketTypes) > 0 && !slices.Contains(f.MarketTypes, m.Type) {
		return fmt.Sprintf("market type %d not allowed", m.Type)
	}
	if len(f.LeagueIDs) > 0 && !slices.Contains(f.LeagueIDs, m.LeagueID) {
		return fmt.Sprintf("league %d not allowed", m.LeagueID)
	}
	if f.ExcludeParlays && m.IsParlay() {
		return ReasonParlay
	}
	if f.ExcludeLive && m.IsLive(now) {
		return ReasonLive
	}

	p := odds.ImpliedProbability(order.PercentageOdds)
	if p.LessThan(f.MinOdds) {
		return fmt.Sprintf("odds %s below minimum %s", p, f.MinOdds)
	}
	if !f.MaxOdds.IsZero() && p.GreaterThan(f.MaxOdds) {
		return fmt.Sprintf("odds %s above maximum %s", p, f.MaxOdds)
	}
	return ""
}
