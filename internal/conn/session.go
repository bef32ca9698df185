// Package conn implements the Connection Manager (§4.2): two independent
// WebSocket sessions (public, private), each with an outer supervisor that
// classifies disconnect causes into a reconnect policy, and an inner
// cooperative read loop that parses frames, serves the Subscription/
// Trading RPC, and watches the token and heartbeat deadlines.
//
// Grounded on the teacher's internal/exchange/ws.go Run/connectAndRead/
// dispatchMessage/pingLoop shape, generalized from Polymarket's two fixed
// channel sets to the symbol-driven subscribe/unsubscribe protocol of
// §4.4, and on nugget-thane-ai-agent's stdio transport for turning a
// blocking read into a context-cancellable channel receive.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"deskbot/internal/auth"
	"deskbot/internal/bus"
	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// DisconnectCause classifies why a session's read loop ended, driving the
// supervisor's reconnect policy (§4.2 "Supervisor (outer loop)").
type DisconnectCause int

const (
	CauseOther DisconnectCause = iota
	CauseTokenExpired
	CauseCredentialsUpdated
	CauseShutdown
	CauseHeartbeatTimeout
)

const (
	backoffInitial = 1 * time.Second
	backoffCeiling = 60 * time.Second
	heartbeatTimeout = 30 * time.Second
)

// Session is one long-lived WebSocket connection plus its outer supervisor
// (§GLOSSARY "Session"). Public sessions have a nil tokenMgr; private
// sessions are gated on credentials and refresh their token per §4.3.
type Session struct {
	Name      string // "public" or "private"
	URL       string
	IsPrivate bool

	bus      *bus.Bus
	tokenMgr *auth.Manager // nil for public
	creds    *auth.Handle  // nil for public
	rpc      *RPCTable
	logger   *slog.Logger
	metrics  *metrics.Registry

	commands chan types.ConnectionCommand

	subMu      sync.Mutex
	subscribed map[string]bool

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewPublicSession creates the public (anonymous) market-data session.
func NewPublicSession(url string, b *bus.Bus, logger *slog.Logger) *Session {
	return &Session{
		Name:       "public",
		URL:        url,
		bus:        b,
		rpc:        NewRPCTable(),
		logger:     logger.With("session", "public"),
		commands:   make(chan types.ConnectionCommand, bus.CommandCapacity),
		subscribed: make(map[string]bool),
	}
}

// NewPrivateSession creates the authenticated user-data session, gated on
// creds being non-zero before Run is ever called (§9 "Startup gating").
func NewPrivateSession(url string, b *bus.Bus, tokenMgr *auth.Manager, creds *auth.Handle, logger *slog.Logger) *Session {
	return &Session{
		Name:       "private",
		URL:        url,
		IsPrivate:  true,
		bus:        b,
		tokenMgr:   tokenMgr,
		creds:      creds,
		rpc:        NewRPCTable(),
		logger:     logger.With("session", "private"),
		commands:   make(chan types.ConnectionCommand, bus.CommandCapacity),
		subscribed: make(map[string]bool),
	}
}

// Commands returns the channel the Manager feeds this session's commands
// into (subscribe/unsubscribe/credential rotation routed by session name).
func (s *Session) Commands() chan<- types.ConnectionCommand { return s.commands }

// SetMetrics attaches the shared metrics registry after construction, so a
// test-built session can stay metrics-free.
func (s *Session) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Run is the outer supervisor loop (§4.2 "Supervisor"). It blocks until ctx
// is cancelled. On disconnect it classifies the cause and either
// reconnects immediately (token/credential causes), exits (shutdown), or
// backs off exponentially from 1s to a 60s ceiling with ±20% jitter.
func (s *Session) Run(ctx context.Context) {
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			return
		}

		cause, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("session disconnected", "cause", causeName(cause), "error", err)
		}

		if cause == CauseShutdown {
			return
		}
		s.emitStatus(types.Reconnecting)
		if s.metrics != nil {
			s.metrics.Reconnects.WithLabelValues(s.Name).Inc()
		}

		switch cause {
		case CauseTokenExpired, CauseCredentialsUpdated:
			backoff = backoffInitial
			continue // immediate reconnect, no backoff
		default:
			wait := jitter(backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
		}
	}
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func causeName(c DisconnectCause) string {
	switch c {
	case CauseTokenExpired:
		return "token_expired"
	case CauseCredentialsUpdated:
		return "credentials_updated"
	case CauseShutdown:
		return "shutdown"
	case CauseHeartbeatTimeout:
		return "heartbeat_timeout"
	default:
		return "other"
	}
}

func (s *Session) emitStatus(status types.ConnStatus) {
	s.bus.TrySendMessage(types.Message{
		Kind:       types.KindConnectionStatus,
		Session:    s.Name,
		ConnStatus: status,
	})
}

// connectAndRead dials, gates on credentials/token for the private
// session, reissues subscriptions, and runs the inner read loop until
// disconnect.
func (s *Session) connectAndRead(ctx context.Context) (DisconnectCause, error) {
	if s.IsPrivate {
		if s.creds == nil || !s.creds.HasCredentials() {
			s.bus.TrySendMessage(types.Message{Kind: types.KindPrivateChannelStatus, PrivateUp: false})
			return CauseOther, fmt.Errorf("no credentials")
		}
		// Publish the token state Fetch moves through: Refreshing while the
		// request is in flight, then whatever state Fetch leaves behind.
		s.bus.TrySendMessage(types.Message{Kind: types.KindTokenState, TokenState: types.TokenRefreshing})
		err := s.tokenMgr.Fetch(ctx)
		s.bus.TrySendMessage(types.Message{Kind: types.KindTokenState, TokenState: s.tokenMgr.State()})
		if err != nil {
			s.bus.TrySendMessage(types.Message{Kind: types.KindPrivateChannelStatus, PrivateUp: false})
			return CauseOther, fmt.Errorf("fetch token: %w", err)
		}
	}

	s.emitStatus(types.Connecting)

	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return CauseOther, fmt.Errorf("dial: %w", err)
	}
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		c.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.reissueSubscriptions(); err != nil {
		return CauseOther, fmt.Errorf("resubscribe: %w", err)
	}

	s.emitStatus(types.Connected)
	if s.IsPrivate {
		s.bus.TrySendMessage(types.Message{Kind: types.KindPrivateChannelStatus, PrivateUp: true})
	}
	s.logger.Info("session connected")

	return s.readLoop(ctx, c)
}

type frameResult struct {
	data []byte
	err  error
}

// readLoop is the inner cooperative select (§4.2 "Read loop"): inbound
// frame, outbound command, refresh deadline, warning deadline, heartbeat
// deadline. A dedicated goroutine performs the blocking ReadMessage call
// and hands frames off on a channel so the select can also observe ctx
// cancellation and the timers.
func (s *Session) readLoop(ctx context.Context, c *websocket.Conn) (DisconnectCause, error) {
	frames := make(chan frameResult, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		for {
			_, data, err := c.ReadMessage()
			select {
			case frames <- frameResult{data: data, err: err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTimer(heartbeatTimeout)
	defer heartbeat.Stop()

	var warnC, refreshC <-chan time.Time
	if s.IsPrivate {
		warnC = s.tokenMgr.WarnC()
		refreshC = s.tokenMgr.RefreshC()
	}

	for {
		select {
		case <-ctx.Done():
			return CauseShutdown, ctx.Err()

		case f := <-frames:
			if f.err != nil {
				return CauseOther, fmt.Errorf("read: %w", f.err)
			}
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(heartbeatTimeout)
			s.dispatchFrame(f.data)

		case cmd := <-s.commands:
			if cmd.Kind == types.CmdUpdateCredentials {
				if s.creds != nil {
					s.creds.Replace(auth.Credentials{APIKey: cmd.APIKey, APISecret: cmd.APISecret})
				}
				return CauseCredentialsUpdated, nil
			}
			if err := s.handleCommand(cmd); err != nil {
				s.logger.Warn("command failed", "error", err)
			}

		case <-heartbeat.C:
			return CauseHeartbeatTimeout, fmt.Errorf("no heartbeat within %s", heartbeatTimeout)

		case <-warnC:
			s.tokenMgr.SetExpiringSoon()
			s.bus.TrySendMessage(types.Message{Kind: types.KindTokenState, TokenState: types.TokenExpiringSoon})
			warnC = nil

		case <-refreshC:
			return CauseTokenExpired, fmt.Errorf("token refresh deadline reached")
		}
	}
}

func (s *Session) handleCommand(cmd types.ConnectionCommand) error {
	switch cmd.Kind {
	case types.CmdSubscribe:
		return s.subscribe(cmd.Symbols)
	case types.CmdUnsubscribe:
		return s.unsubscribe(cmd.Symbols)
	case types.CmdUpdateCredentials:
		return nil // handled directly in readLoop's select to trigger an immediate reconnect
	case types.CmdTokenUsed:
		if s.tokenMgr != nil {
			s.tokenMgr.MarkUsed()
		}
		return nil
	}
	return nil
}

// reissueSubscriptions resends the subscribe frame for every tracked
// symbol atomically, before accepting new user commands (§4.2).
func (s *Session) reissueSubscriptions() error {
	s.subMu.Lock()
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	s.subMu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return s.writeSubscribe("subscribe", symbols)
}

func (s *Session) subscribe(symbols []string) error {
	s.subMu.Lock()
	for _, sym := range symbols {
		s.subscribed[sym] = true
	}
	s.subMu.Unlock()
	return s.writeSubscribe("subscribe", symbols)
}

func (s *Session) unsubscribe(symbols []string) error {
	s.subMu.Lock()
	for _, sym := range symbols {
		delete(s.subscribed, sym)
	}
	s.subMu.Unlock()
	return s.writeSubscribe("unsubscribe", symbols)
}

// ResyncBook issues the unsubscribe-then-subscribe resync sequence for a
// single symbol at depth 25 on this session (§4.4 "Resync protocol").
func (s *Session) ResyncBook(symbol string) error {
	if err := s.writeSubscribe("unsubscribe", []string{symbol}); err != nil {
		return fmt.Errorf("resync unsubscribe: %w", err)
	}
	if err := s.writeSubscribe("subscribe", []string{symbol}); err != nil {
		return fmt.Errorf("resync subscribe: %w", err)
	}
	return nil
}

// PlaceOrder issues the Trading RPC (§4.4): an add_order request correlated
// by req_id, returning the structured OrderResponse once the exchange
// replies or the RPC table's timeout elapses. Only meaningful on the
// private session, where orders are authenticated via the current token.
func (s *Session) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if !s.IsPrivate {
		return types.OrderResponse{}, fmt.Errorf("PlaceOrder called on non-private session")
	}

	reqID := s.rpc.NextReqID()
	ch := s.rpc.Register(reqID)

	var token string
	if s.tokenMgr != nil {
		token = s.tokenMgr.Current().Value
	}

	clOrdID := req.ClOrdID
	if clOrdID == "" {
		clOrdID = uuid.NewString()
	}

	frame := types.WSOrderFrame{
		Method: "add_order",
		Params: types.WSOrderParams{
			Symbol:     req.Symbol,
			Side:       req.Side,
			OrderType:  "limit",
			LimitPrice: req.Price.String(),
			OrderQty:   req.Qty.String(),
			ClOrdID:    clOrdID,
			Token:      token,
		},
		ReqID: reqID,
	}

	if err := s.writeJSON(frame); err != nil {
		return types.OrderResponse{}, fmt.Errorf("write add_order: %w", err)
	}
	if s.tokenMgr != nil {
		s.tokenMgr.MarkUsed()
	}

	resp, err := s.rpc.Wait(reqID, ch)
	if err != nil {
		return types.OrderResponse{Success: false, Symbol: req.Symbol, ClOrdID: clOrdID, Error: err.Error()}, nil
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("marshal order result: %w", err)
	}
	var result types.WSOrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return types.OrderResponse{}, fmt.Errorf("unmarshal order result: %w", err)
	}

	return types.OrderResponse{
		Success:      true,
		Symbol:       req.Symbol,
		OrderID:      result.OrderID,
		ClOrdID:      clOrdID,
		OrderUserref: result.OrderUserref,
	}, nil
}

func (s *Session) writeSubscribe(method string, symbols []string) error {
	reqID := s.rpc.NextReqID()
	frame := types.WSSubscribeFrame{
		Method: method,
		Params: types.WSSubscribeParams{Channel: "book", Symbol: symbols, Depth: 25},
		ReqID:  reqID,
	}
	return s.writeJSON(frame)
}

func (s *Session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

// dispatchFrame parses an inbound frame and try-sends the resulting typed
// message to the bus. Parse failures are logged with a truncated payload
// and otherwise ignored (§4.2, §7 "Protocol-parse").
func (s *Session) dispatchFrame(data []byte) {
	var env types.WSEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("malformed frame", "payload", truncate(data, 200), "error", err)
		return
	}

	switch env.Type {
	case "heartbeat", "ping", "pong":
		return
	default:
	}

	switch env.Channel {
	case "book":
		s.dispatchBook(env)
	case "ticker":
		s.dispatchRaw(types.KindTicker, env)
	case "trade":
		s.dispatchRaw(types.KindTrade, env)
	case "candle":
		s.dispatchRaw(types.KindCandle, env)
	case "executions":
		s.dispatchRaw(types.KindExecution, env)
	case "balances":
		s.dispatchRaw(types.KindBalance, env)
	case "instrument":
		s.dispatchRaw(types.KindInstrument, env)
	default:
		if env.ReqID != 0 {
			var rpcErr error
			if env.Error != "" {
				rpcErr = fmt.Errorf("%s", env.Error)
			}
			s.rpc.Resolve(Response{ReqID: env.ReqID, Data: env.Data, Err: rpcErr})
			return
		}
		s.logger.Debug("unknown channel", "channel", env.Channel, "type", env.Type)
	}
}

func (s *Session) dispatchBook(env types.WSEnvelope) {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		s.logger.Warn("malformed book payload", "error", err)
		return
	}
	var data types.WSBookData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("malformed book payload", "payload", truncate(raw, 200), "error", err)
		return
	}

	bids := parseLevels(data.Bids)
	asks := parseLevels(data.Asks)

	if env.Type == "snapshot" {
		s.bus.TrySendMessage(types.Message{
			Kind: types.KindBook,
			Book: types.BookSnapshot{Symbol: data.Symbol, Bids: bids, Asks: asks, Checksum: data.Checksum},
		})
		return
	}

	s.bus.TrySendMessage(types.Message{
		Kind:      types.KindBookDelta,
		BookDelta: types.BookUpdate{Symbol: data.Symbol, Bids: bids, Asks: asks, Checksum: data.Checksum},
	})
}

func parseLevels(raw [][]string) []types.Level {
	out := make([]types.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			continue
		}
		out = append(out, types.Level{Price: price, Qty: qty})
	}
	return out
}

// dispatchRaw forwards channels whose payload shape is opaque to the core
// (§1 "Domain models for executions/balances/trades... specified only by
// their role as opaque forwarded payloads"), plus the typed ticker/trade/
// candle channels, which decode into their own structs so downstream
// consumers (the agent bridge's per-symbol ticker throttle) see a real
// Symbol instead of an empty one. For executions, balances and instruments
// only the Raw map is filled.
func (s *Session) dispatchRaw(kind types.MessageKind, env types.WSEnvelope) {
	raw, _ := env.Data.(map[string]any)
	msg := types.Message{Kind: kind}
	switch kind {
	case types.KindTicker:
		var t types.Ticker
		if err := decodeData(env.Data, &t); err != nil {
			s.logger.Warn("malformed ticker payload", "error", err)
		}
		msg.Ticker = t
	case types.KindTrade:
		var tr types.Trade
		if err := decodeData(env.Data, &tr); err != nil {
			s.logger.Warn("malformed trade payload", "error", err)
		}
		msg.Trade = tr
	case types.KindCandle:
		var c types.Candle
		if err := decodeData(env.Data, &c); err != nil {
			s.logger.Warn("malformed candle payload", "error", err)
		}
		msg.Candle = c
	case types.KindExecution:
		msg.Execution = types.Execution{Raw: raw}
	case types.KindBalance:
		msg.Balance = types.Balance{Raw: raw}
	case types.KindInstrument:
		msg.Instrument = types.Instrument{Raw: raw}
	}
	s.bus.TrySendMessage(msg)
}

// decodeData re-marshals an already-decoded any (from the generic envelope)
// and unmarshals it into out, the same two-step the teacher's exchange/ws.go
// used for its typed channel payloads.
func decodeData(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
