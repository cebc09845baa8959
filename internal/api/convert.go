package api

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
)

// ToModel converts an API market to the internal representation.
func (m APIMarket) ToModel() model.Market {
	out := model.Market{
		Hash:         m.MarketHash,
		EventID:      m.SportXEventID,
		SportID:      m.SportID,
		LeagueID:     m.LeagueID,
		Type:         m.Type,
		Status:       m.Status,
		TeamOneName:  m.TeamOneName,
		TeamTwoName:  m.TeamTwoName,
		OutcomeOne:   m.OutcomeOneName,
		OutcomeTwo:   m.OutcomeTwoName,
		ParlayMarket: m.ParlayMarket,
	}
	if m.GameTime > 0 {
		out.GameTime = time.Unix(m.GameTime, 0).UTC()
	}
	for _, leg := range m.Legs {
		out.Legs = append(out.Legs, leg.MarketHash)
	}
	return out
}

// OrderFromModel converts a signed order to its wire form.
func OrderFromModel(o model.Order) APIOrder {
	return APIOrder{
		MarketHash:               o.MarketHash,
		Maker:                    o.Maker,
		TotalBetSize:             dec(o.TotalBetSize),
		PercentageOdds:           dec(o.PercentageOdds),
		BaseToken:                o.BaseToken,
		APIExpiry:                o.APIExpiry,
		Expiry:                   o.Expiry,
		Executor:                 o.Executor,
		Salt:                     dec(o.Salt),
		IsMakerBettingOutcomeOne: o.IsMakerBettingOutcomeOne,
		Signature:                o.Signature,
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
