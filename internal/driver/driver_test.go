package driver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"deskbot/internal/bus"
	"deskbot/internal/reducer"
	"deskbot/internal/store"
	"deskbot/pkg/types"
)

func newTestDriver(t *testing.T) (*Driver, *bus.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(b, nil, nil, st, logger), b
}

func TestAgentCommandForTicker(t *testing.T) {
	t.Parallel()
	cmd, ok := agentCommandFor(types.Message{Kind: types.KindTicker, Ticker: types.Ticker{Symbol: "XBT/USD"}})
	if !ok {
		t.Fatal("expected a ticker_update command")
	}
	if cmd.Type != "ticker_update" || len(cmd.Pairs) != 1 || cmd.Pairs[0] != "XBT/USD" {
		t.Errorf("unexpected command: %+v", cmd)
	}
}

func TestAgentCommandForUnmappedKindIsSkipped(t *testing.T) {
	t.Parallel()
	_, ok := agentCommandFor(types.Message{Kind: types.KindConnectionStatus})
	if ok {
		t.Error("expected connection-status messages not to be forwarded to the agent")
	}
}

func TestAgentCommandForTokenState(t *testing.T) {
	t.Parallel()
	cmd, ok := agentCommandFor(types.Message{Kind: types.KindTokenState, TokenState: types.TokenExpiringSoon})
	if !ok || cmd.Type != "token_state" || cmd.State != "expiring_soon" {
		t.Errorf("unexpected command: %+v ok=%v", cmd, ok)
	}
}

func TestRunFoldsMessagesThroughReducer(t *testing.T) {
	t.Parallel()
	d, b := newTestDriver(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	b.TrySendMessage(types.Message{Kind: types.KindConnectionStatus, Session: "public", ConnStatus: types.Connected})

	waitFor(t, func() bool { return d.State().PublicStatus == types.Connected })
}

func TestDispatchEditRiskParamPersistsToStore(t *testing.T) {
	t.Parallel()
	d, _ := newTestDriver(t)

	d.dispatch(context.Background(), &reducer.Action{
		Kind: types.ActionEditRiskParam, RiskKey: "max_notional", RiskVal: 250,
	})

	params, err := d.store.LoadAgentRiskParams()
	if err != nil {
		t.Fatalf("LoadAgentRiskParams: %v", err)
	}
	if params.Params["max_notional"] != 250 {
		t.Errorf("max_notional = %v, want 250", params.Params["max_notional"])
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
