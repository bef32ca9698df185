package reducer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"deskbot/internal/book"
	"deskbot/pkg/types"
)

func lvl(price, qty string) types.Level {
	return types.Level{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func TestUpdateConnectionStatusTracksWorstOfTwo(t *testing.T) {
	t.Parallel()
	s := New()

	Update(s, types.Message{Kind: types.KindConnectionStatus, Session: "public", ConnStatus: types.Connected}, time.Now())
	Update(s, types.Message{Kind: types.KindConnectionStatus, Session: "private", ConnStatus: types.Reconnecting}, time.Now())

	if got := s.AggregateStatus(); got != types.Reconnecting {
		t.Errorf("AggregateStatus() = %v, want Reconnecting", got)
	}
}

func TestUpdateBookSnapshotCreatesBook(t *testing.T) {
	t.Parallel()
	s := New()

	Update(s, types.Message{
		Kind: types.KindBook,
		Book: types.BookSnapshot{Symbol: "X", Bids: []types.Level{lvl("100", "1")}, Asks: []types.Level{lvl("101", "2")}, Checksum: 1},
	}, time.Now())

	b, ok := s.Books["X"]
	if !ok {
		t.Fatal("expected book X to be created")
	}
	if len(b.Bids) != 1 || len(b.Asks) != 1 {
		t.Fatalf("unexpected book contents: %+v", b)
	}
}

func TestUpdateBookDeltaMismatchEmitsResync(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()

	Update(s, types.Message{
		Kind: types.KindBook,
		Book: types.BookSnapshot{Symbol: "X", Bids: []types.Level{lvl("100", "1")}, Asks: []types.Level{lvl("101", "1")}},
	}, now)

	action := Update(s, types.Message{
		Kind:      types.KindBookDelta,
		BookDelta: types.BookUpdate{Symbol: "X", Bids: []types.Level{lvl("99", "1")}, Checksum: 0xDEADBEEF},
	}, now)

	if action == nil || action.Kind != types.ActionResyncBook || action.Symbol != "X" {
		t.Fatalf("expected ResyncBook(X) action, got %+v", action)
	}
}

func TestUpdateBookDeltaCooldownSuppressesSecondResync(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()

	Update(s, types.Message{Kind: types.KindBook, Book: types.BookSnapshot{Symbol: "X"}}, now)
	Update(s, types.Message{Kind: types.KindBookDelta, BookDelta: types.BookUpdate{Symbol: "X", Checksum: 1}}, now)

	action := Update(s, types.Message{
		Kind:      types.KindBookDelta,
		BookDelta: types.BookUpdate{Symbol: "X", Checksum: 2},
	}, now.Add(1*time.Second))

	if action != nil {
		t.Errorf("expected no action within cooldown, got %+v", action)
	}
}

func TestUpdateBookDeltaMatchingChecksumNoAction(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()

	Update(s, types.Message{Kind: types.KindBook, Book: types.BookSnapshot{Symbol: "X"}}, now)
	checksum := book.Checksum(nil, nil)

	action := Update(s, types.Message{
		Kind:      types.KindBookDelta,
		BookDelta: types.BookUpdate{Symbol: "X", Checksum: checksum},
	}, now)

	if action != nil {
		t.Errorf("expected no action on matching checksum, got %+v", action)
	}
}

func TestUpdateAgentTokenUsageAccumulates(t *testing.T) {
	t.Parallel()
	s := New()

	Update(s, types.Message{Kind: types.KindAgentTokenUsage, InTokens: 10, OutTokens: 5}, time.Now())
	Update(s, types.Message{Kind: types.KindAgentTokenUsage, InTokens: 3, OutTokens: 1}, time.Now())

	if s.AgentInputTokens != 13 || s.AgentOutputTokens != 6 {
		t.Errorf("got input=%d output=%d, want 13/6", s.AgentInputTokens, s.AgentOutputTokens)
	}
}

func TestUpdateAgentOrderRequestProducesPlaceOrderAction(t *testing.T) {
	t.Parallel()
	s := New()
	req := types.OrderRequest{Symbol: "X", Side: types.Buy, ClOrdID: "abc"}

	action := Update(s, types.Message{Kind: types.KindAgentOrderRequest, OrderReq: req}, time.Now())

	if action == nil || action.Kind != types.ActionPlaceOrder || action.Order.ClOrdID != "abc" {
		t.Fatalf("expected PlaceOrder action carrying order, got %+v", action)
	}
}

func TestOpenOrdersCapDropsOldest(t *testing.T) {
	t.Parallel()
	s := New()

	for i := 0; i < openOrdersCap+10; i++ {
		s.recordOrder("X", types.OrderResponse{OrderID: string(rune('a' + i%26))})
	}

	if len(s.OpenOrders["X"]) != openOrdersCap {
		t.Fatalf("len = %d, want %d", len(s.OpenOrders["X"]), openOrdersCap)
	}
}

func TestEditRiskParam(t *testing.T) {
	t.Parallel()
	s := New()
	s.EditRiskParam("max_notional", 500)

	if s.RiskParams["max_notional"] != 500 {
		t.Errorf("RiskParams[max_notional] = %v, want 500", s.RiskParams["max_notional"])
	}
}
