package api

// MaxMarketsPerRequest is the largest batch GET /markets/find accepts.
const MaxMarketsPerRequest = 30

// APIMarket is a market from GET /markets/find.
type APIMarket struct {
	MarketHash     string   `json:"marketHash"`
	Status         string   `json:"status"`
	Type           int      `json:"type"`
	SportID        int      `json:"sportId"`
	LeagueID       int      `json:"leagueId"`
	GameTime       int64    `json:"gameTime"` // Unix seconds
	TeamOneName    string   `json:"teamOneName"`
	TeamTwoName    string   `json:"teamTwoName"`
	OutcomeOneName string   `json:"outcomeOneName"`
	OutcomeTwoName string   `json:"outcomeTwoName"`
	SportXEventID  string   `json:"sportXeventId"`
	Legs           []APILeg `json:"legs,omitempty"`
	ParlayMarket   bool     `json:"parlayMarket,omitempty"`
}

// APILeg is one leg of a parlay market.
type APILeg struct {
	MarketHash string `json:"marketHash"`
}

// APIOrder is a signed maker order as accepted by POST /orders/new.
// Amounts are base-10 strings.
type APIOrder struct {
	MarketHash               string `json:"marketHash"`
	Maker                    string `json:"maker"`
	TotalBetSize             string `json:"totalBetSize"`
	PercentageOdds           string `json:"percentageOdds"`
	BaseToken                string `json:"baseToken"`
	APIExpiry                int64  `json:"apiExpiry"`
	Expiry                   int64  `json:"expiry"`
	Executor                 string `json:"executor"`
	Salt                     string `json:"salt"`
	IsMakerBettingOutcomeOne bool   `json:"isMakerBettingOutcomeOne"`
	Signature                string `json:"signature"`
}

// PostOrdersRequest is the body of POST /orders/new.
type PostOrdersRequest struct {
	Orders []APIOrder `json:"orders"`
}

// PostOrdersResult is the data of a POST /orders/new response: the hashes
// of the orders that were inserted.
type PostOrdersResult struct {
	Orders []string `json:"orders"`
}

// CancelOrdersRequest is the body of POST /orders/cancel/v2.
type CancelOrdersRequest struct {
	OrderHashes []string `json:"orderHashes"`
	Signature   string   `json:"signature"`
	Salt        string   `json:"salt"`
	Maker       string   `json:"maker"`
	Timestamp   int64    `json:"timestamp"`
}

// CancelEventOrdersRequest is the body of POST /orders/cancel/event.
type CancelEventOrdersRequest struct {
	SportXEventID string `json:"sportXeventId"`
	Signature     string `json:"signature"`
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Timestamp     int64  `json:"timestamp"`
}

// CancelAllOrdersRequest is the body of POST /orders/cancel/all.
type CancelAllOrdersRequest struct {
	Signature string `json:"signature"`
	Salt      string `json:"salt"`
	Maker     string `json:"maker"`
	Timestamp int64  `json:"timestamp"`
}

// CancelResult is the data of every cancel response.
type CancelResult struct {
	CancelledCount int `json:"cancelledCount"`
}

// Metadata is the data of GET /metadata.
type Metadata struct {
	ExecutorAddress    string `json:"executorAddress"`
	OddsLadderStepSize uint64 `json:"oddsLadderStepSize"`
	DomainVersion      string `json:"domainVersion"` // EIP-712 domain version
}
