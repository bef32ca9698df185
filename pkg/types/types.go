// Package types defines the wire and bus vocabulary shared across the
// connectivity core: WebSocket envelopes, book levels, the bus Message sum
// type, and the reducer's Action sum type.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ConnStatus is the lifecycle state of one WebSocket session.
type ConnStatus int

const (
	Disconnected ConnStatus = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TokenState is the lifecycle state of the private-session auth token.
type TokenState int

const (
	TokenUnavailable TokenState = iota
	TokenValid
	TokenExpiringSoon
	TokenRefreshing
)

func (s TokenState) String() string {
	switch s {
	case TokenUnavailable:
		return "unavailable"
	case TokenValid:
		return "valid"
	case TokenExpiringSoon:
		return "expiring_soon"
	case TokenRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Level is one price/quantity rung of an order book side.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BookSnapshot is a full exchange-provided replacement of one symbol's book.
type BookSnapshot struct {
	Symbol   string
	Bids     []Level
	Asks     []Level
	Checksum uint32
}

// BookUpdate is an incremental diff against the last snapshot.
type BookUpdate struct {
	Symbol   string
	Bids     []Level
	Asks     []Level
	Checksum uint32
}

// Ticker is a best-bid/ask/last-price tick for a symbol.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
}

// Trade is a public trade print.
type Trade struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Side   Side            `json:"side"`
	Time   time.Time       `json:"time"`
}

// Candle is an OHLC bar.
type Candle struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Time     time.Time       `json:"time"`
}

// RiskLimits mirrors the hard limits internal/store persists, forwarded to
// the agent as a risk_limits command (§6) without the core importing the
// store package's on-disk shape directly.
type RiskLimits struct {
	MaxOrderNotional float64 `json:"max_order_notional"`
	MaxOpenOrders    int     `json:"max_open_orders"`
	MaxSymbols       int     `json:"max_symbols"`
}

// Execution is an opaque forwarded fill/execution payload — domain modeling
// beyond its role as a forwarded payload is out of scope. The session fills
// only Raw with the decoded payload; the typed fields stay zero.
type Execution struct {
	OrderID string
	ClOrdID string
	Symbol  string
	Side    Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Time    time.Time
	Raw     map[string]any
}

// Balance is an opaque forwarded balance payload.
type Balance struct {
	Asset string
	Free  decimal.Decimal
	Used  decimal.Decimal
	Raw   map[string]any
}

// Instrument is exchange-provided symbol metadata.
type Instrument struct {
	Symbol   string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
	Raw      map[string]any
}

// OrderResponse is the structured result of an order-placement request.
type OrderResponse struct {
	Success      bool
	Symbol       string
	OrderID      string
	ClOrdID      string
	OrderUserref string
	Error        string
}

// OrderRequest is an order-placement intent originating from the agent or
// the operator.
type OrderRequest struct {
	Symbol  string
	Side    Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	ClOrdID string
}

// --- Event Bus sum type -----------------------------------------------

// MessageKind discriminates Message's active variant. Message carries
// exactly one populated payload corresponding to Kind; the rest are zero.
type MessageKind int

const (
	KindTicker MessageKind = iota
	KindBook
	KindBookDelta
	KindTrade
	KindCandle
	KindExecution
	KindBalance
	KindInstrument
	KindOrderPlaced
	KindHeartbeat
	KindConnectionStatus
	KindPrivateChannelStatus
	KindTokenState
	KindAgentOutput
	KindAgentReady
	KindAgentExited
	KindAgentStreamDelta
	KindAgentStreamEnd
	KindAgentTokenUsage
	KindAgentOrderRequest
	KindAgentActivePairs
	KindRiskLimits
	KindKey
	KindResize
	KindTick
)

// String returns a lowercase label suitable for a metric's variant
// dimension. Every kind except KindHeartbeat has its own label; any kind
// without one returns "unknown".
func (k MessageKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindBook:
		return "book"
	case KindBookDelta:
		return "book_delta"
	case KindTrade:
		return "trade"
	case KindCandle:
		return "candle"
	case KindExecution:
		return "execution"
	case KindBalance:
		return "balance"
	case KindInstrument:
		return "instrument"
	case KindOrderPlaced:
		return "order_placed"
	case KindConnectionStatus:
		return "connection_status"
	case KindPrivateChannelStatus:
		return "private_channel_status"
	case KindTokenState:
		return "token_state"
	case KindAgentOutput:
		return "agent_output"
	case KindAgentReady:
		return "agent_ready"
	case KindAgentExited:
		return "agent_exited"
	case KindAgentStreamDelta:
		return "agent_stream_delta"
	case KindAgentStreamEnd:
		return "agent_stream_end"
	case KindAgentTokenUsage:
		return "agent_token_usage"
	case KindAgentOrderRequest:
		return "agent_order_request"
	case KindAgentActivePairs:
		return "agent_active_pairs"
	case KindRiskLimits:
		return "risk_limits"
	case KindKey:
		return "key"
	case KindResize:
		return "resize"
	case KindTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Message is the tagged union flowing through the Event Bus to the reducer.
type Message struct {
	Kind MessageKind

	Ticker     Ticker
	Book       BookSnapshot
	BookDelta  BookUpdate
	Trade      Trade
	Candle     Candle
	Execution  Execution
	Balance    Balance
	Instrument Instrument
	OrderResp  OrderResponse

	Session    string // "public" or "private"
	ConnStatus ConnStatus
	PrivateUp  bool
	TokenState TokenState

	AgentLine  string
	AgentErr   error
	AgentDelta string
	AgentName  string
	InTokens   int
	OutTokens  int
	AgentPairs []string
	OrderReq   OrderRequest
	RiskLimits RiskLimits

	// Keyboard-intent carriers (§4.6): populated by the render surface when
	// Key maps to an Action needing parameters beyond the symbol/key itself.
	OrderID   string
	APIKey    string
	APISecret string
	RiskKey   string
	RiskVal   float64

	Key  rune
	Rows int
	Cols int
}

// --- Connection-command stream -----------------------------------------

type ConnectionCommandKind int

const (
	CmdSubscribe ConnectionCommandKind = iota
	CmdUnsubscribe
	CmdUpdateCredentials
	CmdTokenUsed
)

func (k ConnectionCommandKind) String() string {
	switch k {
	case CmdSubscribe:
		return "subscribe"
	case CmdUnsubscribe:
		return "unsubscribe"
	case CmdUpdateCredentials:
		return "update_credentials"
	case CmdTokenUsed:
		return "token_used"
	default:
		return "unknown"
	}
}

// ConnectionCommand is carried on the smaller command stream: subscribe,
// unsubscribe, credential rotation, and token-usage bookkeeping directed at
// the Connection Manager.
type ConnectionCommand struct {
	Kind      ConnectionCommandKind
	Session   string
	Symbols   []string
	APIKey    string
	APISecret string
}

// --- Reducer Action sum type -------------------------------------------

type ActionKind int

const (
	ActionSubscribe ActionKind = iota
	ActionUnsubscribe
	ActionResyncBook
	ActionPlaceOrder
	ActionCancelOrder
	ActionSaveCredentials
	ActionEditRiskParam
)

// Action is a reducer-produced intent consumed by the outer driver only —
// never by the reducer itself.
type Action struct {
	Kind      ActionKind
	Symbol    string
	Symbols   []string
	Order     OrderRequest
	OrderID   string
	APIKey    string
	APISecret string
	RiskKey   string
	RiskVal   float64
}

// --- WebSocket wire envelope --------------------------------------------

// WSEnvelope is the generic v2 message envelope: channel/type/data.
type WSEnvelope struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	ReqID   int64  `json:"req_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WSSubscribeParams names the channel and its parameters in a subscribe frame.
type WSSubscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol,omitempty"`
	Depth   int      `json:"depth,omitempty"`
	Token   string   `json:"token,omitempty"`
}

// WSSubscribeFrame is the outbound subscribe/unsubscribe request.
type WSSubscribeFrame struct {
	Method string            `json:"method"`
	Params WSSubscribeParams `json:"params"`
	ReqID  int64             `json:"req_id"`
}

// WSOrderParams is the payload of an outbound add_order trading RPC frame.
type WSOrderParams struct {
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	OrderType string `json:"order_type"`
	LimitPrice string `json:"limit_price,omitempty"`
	OrderQty  string `json:"order_qty"`
	ClOrdID   string `json:"cl_ord_id,omitempty"`
	Token     string `json:"token"`
}

// WSOrderFrame is the outbound add_order request, correlated to its
// response by ReqID like a subscribe frame.
type WSOrderFrame struct {
	Method string        `json:"method"`
	Params WSOrderParams `json:"params"`
	ReqID  int64         `json:"req_id"`
}

// WSOrderResult is the add_order response payload.
type WSOrderResult struct {
	OrderID      string `json:"order_id"`
	ClOrdID      string `json:"cl_ord_id"`
	OrderUserref string `json:"order_userref"`
}

// WSBookData is the per-symbol book payload inside a book WSEnvelope.
type WSBookData struct {
	Symbol   string     `json:"symbol"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
	Checksum uint32     `json:"checksum"`
}

// --- Agent protocol (line-delimited JSON over pipes) --------------------

// AgentCommand is one outbound (core -> agent) line.
type AgentCommand struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Pairs        []string `json:"pairs,omitempty"`
	Description  string `json:"description,omitempty"`
	State        string `json:"state,omitempty"`
	Data         any    `json:"data,omitempty"`
	Success      bool   `json:"success,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	ClOrdID      string `json:"cl_ord_id,omitempty"`
	OrderUserref string `json:"order_userref,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AgentEvent is one inbound (agent -> core) line, decoded from JSON by its
// discriminating Type field. Fields beyond Type are interpreted per Type;
// an unrecognized Type is treated as a raw output line by the caller.
type AgentEvent struct {
	Type         string `json:"type"`
	Agent        string `json:"agent,omitempty"`
	Line         string `json:"line,omitempty"`
	Delta        string `json:"delta,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	Side         Side   `json:"side,omitempty"`
	Price        string `json:"price,omitempty"`
	Qty          string `json:"qty,omitempty"`
	ClOrdID      string `json:"cl_ord_id,omitempty"`
}
