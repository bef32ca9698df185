// Package driver implements the outer driver (§3.10 of the expanded
// design): the single goroutine that owns the bus's message-channel
// receiver, folds every message through reducer.Update, fans a read-only
// projection to the Agent Bridge, and dispatches the reducer's Actions to
// the Connection Manager or Agent Bridge. Grounded on the teacher's
// internal/engine/engine.go main-loop shape (manageMarkets' single select
// over channels owned by other components), generalized from Polymarket
// market-slot routing to this core's flatter bus/reducer/action pipeline.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/agent"
	"deskbot/internal/auth"
	"deskbot/internal/bus"
	"deskbot/internal/conn"
	"deskbot/internal/reducer"
	"deskbot/internal/store"
	"deskbot/pkg/types"
)

// Driver wires the bus consumer to the reducer and the two components that
// act on its output.
type Driver struct {
	bus     *bus.Bus
	manager *conn.Manager
	bridge  *agent.Bridge
	store   *store.Store
	logger  *slog.Logger

	state *reducer.State

	mu             sync.Mutex
	creds          *auth.Handle
	agentCfg       agent.Config
	privateStarted bool
	activePairs    map[string]struct{}
}

// New creates a Driver. bridge may be nil if the agent has not been spawned
// yet (§9 "Startup gating" — credentials not yet present).
func New(b *bus.Bus, manager *conn.Manager, bridge *agent.Bridge, st *store.Store, logger *slog.Logger) *Driver {
	return &Driver{
		bus:         b,
		manager:     manager,
		bridge:      bridge,
		store:       st,
		logger:      logger.With("component", "driver"),
		state:       reducer.New(),
		activePairs: make(map[string]struct{}),
	}
}

// SetBridge attaches the agent bridge once it is spawned. Until then
// projectToAgent skips every message; nothing is buffered for the agent.
func (d *Driver) SetBridge(b *agent.Bridge) {
	d.bridge = b
}

// SetCredentialGating supplies the shared credential handle and the agent
// subprocess config a cold boot without credentials needs later, once
// ActionSaveCredentials arrives and startPrivateIfNeeded can actually start
// something (§9 "only upon credential dismissal does the private session
// and agent child spawn").
func (d *Driver) SetCredentialGating(creds *auth.Handle, agentCfg agent.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creds = creds
	d.agentCfg = agentCfg
}

// MarkPrivateStarted records that the private session and agent were
// already started at boot (credentials were present at startup), so a
// later ActionSaveCredentials does not start them a second time.
func (d *Driver) MarkPrivateStarted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.privateStarted = true
}

// State returns the live reducer state for read-only inspection by a
// render surface (out of scope here, but the accessor is the seam it would
// use).
func (d *Driver) State() *reducer.State {
	return d.state
}

// Run consumes the bus's message stream until ctx is cancelled. Each
// message is first projected to the agent (read-only fan-out, §9 "the
// outer driver may fan out a message... before handing it to the
// reducer"), then folded through the reducer; any resulting Action is
// dispatched.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.bus.Messages():
			d.projectToAgent(msg)
			d.state.Lock()
			action := reducer.Update(d.state, msg, time.Now())
			d.state.Unlock()
			if action != nil {
				d.dispatch(ctx, action)
			}
		}
	}
}

func (d *Driver) projectToAgent(msg types.Message) {
	if d.bridge == nil {
		return
	}
	cmd, ok := agentCommandFor(msg)
	if !ok {
		return
	}
	d.bridge.Send(cmd)
}

// agentCommandFor maps a subset of bus messages onto the core->agent
// protocol table (§6). Messages with no agent-facing counterpart (keyboard,
// resize, connection status) are not forwarded.
func agentCommandFor(msg types.Message) (types.AgentCommand, bool) {
	switch msg.Kind {
	case types.KindTicker:
		return types.AgentCommand{Type: "ticker_update", Pairs: []string{msg.Ticker.Symbol}, Data: msg.Ticker}, true
	case types.KindTrade:
		return types.AgentCommand{Type: "trade_update", Data: msg.Trade}, true
	case types.KindExecution:
		return types.AgentCommand{Type: "execution_update", Data: msg.Execution.Raw}, true
	case types.KindBalance:
		return types.AgentCommand{Type: "balance_update", Data: msg.Balance.Raw}, true
	case types.KindOrderPlaced:
		return types.AgentCommand{
			Type:         "order_response",
			Success:      msg.OrderResp.Success,
			OrderID:      msg.OrderResp.OrderID,
			ClOrdID:      msg.OrderResp.ClOrdID,
			OrderUserref: msg.OrderResp.OrderUserref,
			Error:        msg.OrderResp.Error,
		}, true
	case types.KindTokenState:
		return types.AgentCommand{Type: "token_state", State: msg.TokenState.String()}, true
	case types.KindAgentActivePairs:
		return types.AgentCommand{Type: "active_pairs", Pairs: msg.AgentPairs}, true
	case types.KindRiskLimits:
		return types.AgentCommand{Type: "risk_limits", Data: msg.RiskLimits}, true
	default:
		return types.AgentCommand{}, false
	}
}

// dispatch routes one reducer Action to the component that owns the
// corresponding effect (§4.6 "The outer driver consumes Actions and
// dispatches to the Connection Manager... or Agent Bridge").
func (d *Driver) dispatch(ctx context.Context, action *reducer.Action) {
	switch action.Kind {
	case types.ActionSubscribe:
		d.bus.TrySendCommand(types.ConnectionCommand{Kind: types.CmdSubscribe, Symbols: action.Symbols})
		d.updateActivePairs(action.Symbols, true)

	case types.ActionUnsubscribe:
		d.bus.TrySendCommand(types.ConnectionCommand{Kind: types.CmdUnsubscribe, Symbols: action.Symbols})
		d.updateActivePairs(action.Symbols, false)

	case types.ActionResyncBook:
		if err := d.manager.ResyncBook(action.Symbol); err != nil {
			d.logger.Warn("resync failed", "symbol", action.Symbol, "error", err)
		}

	case types.ActionPlaceOrder:
		go d.placeOrder(ctx, action.Order)

	case types.ActionCancelOrder:
		d.logger.Warn("cancel-order action has no wired transport", "order_id", action.OrderID)

	case types.ActionSaveCredentials:
		d.mu.Lock()
		creds := d.creds
		d.mu.Unlock()
		// Replace synchronously: the private session's first connectAndRead
		// checks HasCredentials before the command stream is even read, so a
		// cold-start session needs the Handle updated directly rather than
		// relying solely on the bus round trip below.
		if creds != nil {
			creds.Replace(auth.Credentials{APIKey: action.APIKey, APISecret: action.APISecret})
		}
		d.bus.TrySendCommand(types.ConnectionCommand{
			Kind: types.CmdUpdateCredentials, Session: "private",
			APIKey: action.APIKey, APISecret: action.APISecret,
		})
		d.startPrivateIfNeeded(ctx)

	case types.ActionEditRiskParam:
		if d.store == nil {
			return
		}
		params, err := d.store.LoadAgentRiskParams()
		if err != nil {
			d.logger.Warn("failed to load agent risk params before save", "error", err)
			params = store.AgentRiskParams{Params: make(map[string]float64)}
		}
		params.Params[action.RiskKey] = action.RiskVal
		if err := d.store.SaveAgentRiskParams(params); err != nil {
			d.logger.Warn("failed to persist agent risk params", "error", err)
		}
	}
}

// startPrivateIfNeeded spawns the private session and the agent subprocess
// the first time credentials become available for a process that booted
// without any. A no-op once already started, whether at boot or by an
// earlier call (§9 "Startup gating").
func (d *Driver) startPrivateIfNeeded(ctx context.Context) {
	d.mu.Lock()
	if d.privateStarted || d.manager == nil {
		d.mu.Unlock()
		return
	}
	d.privateStarted = true
	agentCfg := d.agentCfg
	d.mu.Unlock()

	go d.manager.Private.Run(ctx)

	bridge := agent.New(agentCfg, d.bus, d.logger)
	if err := bridge.Start(ctx); err != nil {
		d.logger.Error("failed to start agent subprocess after credential dismissal", "error", err)
		return
	}
	d.SetBridge(bridge)
}

// updateActivePairs tracks the subscribed symbol set and re-announces the
// full set to the agent every time it changes (§4.7 "active_pairs").
func (d *Driver) updateActivePairs(symbols []string, add bool) {
	d.mu.Lock()
	for _, sym := range symbols {
		if add {
			d.activePairs[sym] = struct{}{}
		} else {
			delete(d.activePairs, sym)
		}
	}
	pairs := make([]string, 0, len(d.activePairs))
	for sym := range d.activePairs {
		pairs = append(pairs, sym)
	}
	d.mu.Unlock()

	d.bus.TrySendMessage(types.Message{Kind: types.KindAgentActivePairs, AgentPairs: pairs})
}

// placeOrder runs the blocking Trading RPC off the main loop goroutine so a
// slow exchange reply cannot stall message consumption, and reinjects the
// structured result back onto the bus for the reducer to record.
func (d *Driver) placeOrder(ctx context.Context, req types.OrderRequest) {
	resp, err := d.manager.PlaceOrder(ctx, req)
	if err != nil {
		d.logger.Warn("place order failed", "symbol", req.Symbol, "error", err)
		resp = types.OrderResponse{Success: false, Symbol: req.Symbol, ClOrdID: req.ClOrdID, Error: err.Error()}
	}
	d.bus.TrySendMessage(types.Message{Kind: types.KindOrderPlaced, OrderResp: resp})
}
