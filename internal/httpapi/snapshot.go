package httpapi

import (
	"deskbot/internal/reducer"
)

// StateSnapshot is the JSON projection of reducer.State served over
// /api/snapshot and pushed to every WebSocket subscriber.
type StateSnapshot struct {
	PublicStatus  string `json:"public_status"`
	PrivateStatus string `json:"private_status"`
	TokenState    string `json:"token_state"`

	Books map[string]BookSummary `json:"books"`

	OpenOrderCounts map[string]int `json:"open_order_counts"`

	AgentInputTokens  int `json:"agent_input_tokens"`
	AgentOutputTokens int `json:"agent_output_tokens"`

	RiskParams map[string]float64 `json:"risk_params"`
}

// BookSummary is the per-symbol book projection; it reports best bid/ask
// and staleness rather than the full level depth, which is too large and
// too fast-moving to be useful as a polled snapshot field.
type BookSummary struct {
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
	IsStale bool   `json:"is_stale"`
	Levels  int    `json:"levels"`
}

// BuildSnapshot projects the live reducer state into a StateSnapshot. It
// runs on goroutines other than the driver's single consumer (the periodic
// broadcast loop, per-request HTTP handlers), so it takes state's read lock
// for the duration of the copy; the driver takes the write lock around each
// reducer.Update call.
func BuildSnapshot(state *reducer.State) StateSnapshot {
	state.RLock()
	defer state.RUnlock()

	snap := StateSnapshot{
		PublicStatus:      state.PublicStatus.String(),
		PrivateStatus:     state.PrivateStatus.String(),
		TokenState:        state.TokenState.String(),
		Books:             make(map[string]BookSummary, len(state.Books)),
		OpenOrderCounts:   make(map[string]int, len(state.OpenOrders)),
		AgentInputTokens:  state.AgentInputTokens,
		AgentOutputTokens: state.AgentOutputTokens,
		RiskParams:        make(map[string]float64, len(state.RiskParams)),
	}

	for symbol, b := range state.Books {
		summary := BookSummary{IsStale: b.IsStale, Levels: len(b.Bids) + len(b.Asks)}
		if len(b.Bids) > 0 {
			summary.BestBid = b.Bids[0].Price.String()
		}
		if len(b.Asks) > 0 {
			summary.BestAsk = b.Asks[0].Price.String()
		}
		snap.Books[symbol] = summary
	}

	for symbol, orders := range state.OpenOrders {
		snap.OpenOrderCounts[symbol] = len(orders)
	}

	for key, val := range state.RiskParams {
		snap.RiskParams[key] = val
	}

	return snap
}
