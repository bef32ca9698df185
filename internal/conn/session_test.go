package conn

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"deskbot/internal/bus"
	"deskbot/pkg/types"
)

func newTestSession() (*Session, *bus.Bus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	s := NewPublicSession("wss://example.invalid", b, logger)
	return s, b
}

func TestDispatchFrameBookSnapshot(t *testing.T) {
	t.Parallel()
	s, b := newTestSession()

	frame := []byte(`{"channel":"book","type":"snapshot","data":{"symbol":"XBT/USD","bids":[["100.0","1.0"]],"asks":[["101.0","2.0"]],"checksum":42}}`)
	s.dispatchFrame(frame)

	select {
	case msg := <-b.Messages():
		if msg.Kind != types.KindBook {
			t.Fatalf("Kind = %v, want KindBook", msg.Kind)
		}
		if msg.Book.Symbol != "XBT/USD" {
			t.Errorf("Symbol = %q, want XBT/USD", msg.Book.Symbol)
		}
		if len(msg.Book.Bids) != 1 || len(msg.Book.Asks) != 1 {
			t.Errorf("expected one level per side, got bids=%d asks=%d", len(msg.Book.Bids), len(msg.Book.Asks))
		}
	default:
		t.Fatal("expected a book message on the bus")
	}
}

func TestDispatchFrameMalformedIsIgnored(t *testing.T) {
	t.Parallel()
	s, b := newTestSession()

	s.dispatchFrame([]byte(`not json`))

	select {
	case msg := <-b.Messages():
		t.Fatalf("expected no message, got %v", msg.Kind)
	default:
	}
}

func TestDispatchFrameHeartbeatIgnored(t *testing.T) {
	t.Parallel()
	s, b := newTestSession()

	s.dispatchFrame([]byte(`{"channel":"book","type":"heartbeat"}`))

	select {
	case msg := <-b.Messages():
		t.Fatalf("expected heartbeat to be dropped, got %v", msg.Kind)
	default:
	}
}

func TestPlaceOrderOnPublicSessionIsRejected(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession()

	_, err := s.PlaceOrder(context.Background(), types.OrderRequest{Symbol: "XBT/USD"})
	if err == nil {
		t.Fatal("expected an error placing an order on a public session")
	}
}

func TestJitterStaysWithinTwentyPercent(t *testing.T) {
	t.Parallel()
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		got := jitter(base)
		low := 8 * time.Second
		high := 12 * time.Second
		if got < low || got > high {
			t.Fatalf("jitter(%v) = %v, out of +-20%% band", base, got)
		}
	}
}
