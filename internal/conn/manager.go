package conn

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"deskbot/internal/auth"
	"deskbot/internal/bus"
	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// orderBurst and orderRate bound outbound add_order frames to a smooth
// refill rate rather than a hard 10-second window, adapted from the
// teacher's exchange/ratelimit.go TokenBucket categories (its "Order"
// bucket: 350 burst / 50 per second).
const (
	orderBurst = 350
	orderRate  = 50
)

// Manager owns the two logically independent sessions (§4.2) and routes
// the bus's connection-command stream to the session named by each
// command.
type Manager struct {
	Public  *Session
	Private *Session

	b            *bus.Bus
	orderLimiter *rate.Limiter
	logger       *slog.Logger
}

// New wires a Manager from config-derived URLs. creds may be a zero handle
// if the private session is not yet gated on (§9 "Startup gating") — the
// caller is responsible for not calling Private.Run until credentials
// exist. m may be nil to run without metrics (tests).
func New(publicURL, privateURL string, b *bus.Bus, tokenMgr *auth.Manager, creds *auth.Handle, m *metrics.Registry, logger *slog.Logger) *Manager {
	public := NewPublicSession(publicURL, b, logger)
	private := NewPrivateSession(privateURL, b, tokenMgr, creds, logger)
	public.SetMetrics(m)
	private.SetMetrics(m)
	return &Manager{
		Public:       public,
		Private:      private,
		b:            b,
		orderLimiter: rate.NewLimiter(rate.Limit(orderRate), orderBurst),
		logger:       logger.With("component", "conn_manager"),
	}
}

// Run starts the command router and blocks until ctx is cancelled. It does
// not itself start the sessions' Run loops: cmd/deskbot starts Public.Run
// at boot and Private.Run when credentials are present at boot, and the
// driver starts Private.Run once credentials are saved later, so a Manager
// can exist public-only.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.b.Commands():
			m.route(cmd)
		}
	}
}

func (m *Manager) route(cmd types.ConnectionCommand) {
	switch cmd.Session {
	case "private":
		select {
		case m.Private.commands <- cmd:
		default:
			m.logger.Warn("private session command channel full, dropping")
		}
	case "public":
		select {
		case m.Public.commands <- cmd:
		default:
			m.logger.Warn("public session command channel full, dropping")
		}
	default:
		// Broadcast subscribe/unsubscribe to both when no session is named.
		m.sendBoth(cmd)
	}
}

func (m *Manager) sendBoth(cmd types.ConnectionCommand) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); trySend(m.Public.commands, cmd) }()
	go func() { defer wg.Done(); trySend(m.Private.commands, cmd) }()
	wg.Wait()
}

func trySend(ch chan types.ConnectionCommand, cmd types.ConnectionCommand) {
	select {
	case ch <- cmd:
	default:
	}
}

// ResyncBook dispatches the resync sequence (§4.4) for symbol to the public
// session, which carries the market-data book subscriptions.
func (m *Manager) ResyncBook(symbol string) error {
	return m.Public.ResyncBook(symbol)
}

// PlaceOrder waits for the order-rate limiter before routing an
// order-placement intent to the private session's Trading RPC (§4.4), so a
// burst of agent-originated orders cannot exceed the exchange's published
// per-window order-placement limit.
func (m *Manager) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if err := m.orderLimiter.Wait(ctx); err != nil {
		return types.OrderResponse{}, err
	}
	return m.Private.PlaceOrder(ctx, req)
}
