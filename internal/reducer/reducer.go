package reducer

import (
	"time"

	"deskbot/pkg/types"
)

// Update folds one Message into state and returns at most one Action for
// the outer driver to dispatch (§4.6). It is pure aside from owning the
// per-symbol *book.Book mutation methods; it performs no I/O. now is
// injected so tests can drive the checksum-cooldown policy deterministically.
func Update(state *State, msg types.Message, now time.Time) *Action {
	switch msg.Kind {
	case types.KindConnectionStatus:
		return updateConnectionStatus(state, msg)

	case types.KindPrivateChannelStatus:
		state.PrivateUp = msg.PrivateUp
		return nil

	case types.KindTokenState:
		state.TokenState = msg.TokenState
		return nil

	case types.KindBook:
		state.bookFor(msg.Book.Symbol).ApplySnapshot(msg.Book)
		return nil

	case types.KindBookDelta:
		return updateBookDelta(state, msg, now)

	case types.KindOrderPlaced:
		state.recordOrder(msg.OrderResp.Symbol, msg.OrderResp)
		return nil

	case types.KindAgentTokenUsage:
		state.AgentInputTokens += msg.InTokens
		state.AgentOutputTokens += msg.OutTokens
		return nil

	case types.KindAgentOrderRequest:
		return &Action{Kind: types.ActionPlaceOrder, Order: msg.OrderReq}

	case types.KindKey:
		return updateKey(state, msg)

	default:
		return nil
	}
}

func updateConnectionStatus(state *State, msg types.Message) *Action {
	switch msg.Session {
	case "public":
		state.PublicStatus = msg.ConnStatus
	case "private":
		state.PrivateStatus = msg.ConnStatus
	}
	return nil
}

// updateBookDelta applies the incremental update and, on checksum
// mismatch, enforces the resync policy (§4.5 "Mismatch policy").
func updateBookDelta(state *State, msg types.Message, now time.Time) *Action {
	b := state.bookFor(msg.BookDelta.Symbol)
	match := b.ApplyUpdate(msg.BookDelta)
	if match {
		return nil
	}

	if b.OnMismatch(now) {
		return &Action{Kind: types.ActionResyncBook, Symbol: msg.BookDelta.Symbol}
	}
	return nil
}

// updateKey translates user keyboard intent into an Action (§4.6). The
// render surface and its full input grammar are out of scope (§1); the
// reducer only recognizes the intents that produce the six Action
// categories, each carried on the fields of msg the render surface fills in
// before sending the key.
func updateKey(state *State, msg types.Message) *Action {
	switch msg.Key {
	case 'r':
		// Manual resync request for a symbol the driver names via AgentPairs[0].
		if len(msg.AgentPairs) > 0 {
			return &Action{Kind: types.ActionResyncBook, Symbol: msg.AgentPairs[0]}
		}
	case 's':
		if len(msg.AgentPairs) > 0 {
			return &Action{Kind: types.ActionSubscribe, Symbols: msg.AgentPairs}
		}
	case 'u':
		if len(msg.AgentPairs) > 0 {
			return &Action{Kind: types.ActionUnsubscribe, Symbols: msg.AgentPairs}
		}
	case 'o':
		return &Action{Kind: types.ActionPlaceOrder, Order: msg.OrderReq}
	case 'c':
		if msg.OrderID != "" {
			return &Action{Kind: types.ActionCancelOrder, OrderID: msg.OrderID}
		}
	case 'k':
		if msg.APIKey != "" || msg.APISecret != "" {
			return &Action{Kind: types.ActionSaveCredentials, APIKey: msg.APIKey, APISecret: msg.APISecret}
		}
	case 'e':
		if msg.RiskKey != "" {
			state.EditRiskParam(msg.RiskKey, msg.RiskVal)
			return &Action{Kind: types.ActionEditRiskParam, RiskKey: msg.RiskKey, RiskVal: msg.RiskVal}
		}
	}
	return nil
}

// Action aliases types.Action so reducer callers don't need to import
// pkg/types solely to reference the reducer's own return type.
type Action = types.Action
