// Package reducer implements the State Reducer (§4.6): the single
// function that folds every bus Message into application state. No
// concurrency happens inside it — it is called exactly once per message by
// the outer driver's single consuming goroutine, matching the teacher's
// engine.go main-loop-as-sole-mutator shape generalized away from its
// market-making specifics.
package reducer

import (
	"sync"

	"deskbot/internal/book"
	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// openOrdersCap is the per-symbol bounded collection size (§3 "open orders
// per symbol = 200 (drop-oldest)").
const openOrdersCap = 200

// State is the complete application state maintained by the reducer. It is
// mutated by exactly one goroutine (the driver, inside reducer.Update), but
// read concurrently by the observability server's snapshot builder, so its
// collections are guarded by mu: the driver takes the write lock around
// each Update call, and any other reader takes the read lock.
type State struct {
	mu sync.RWMutex

	PublicStatus  types.ConnStatus
	PrivateStatus types.ConnStatus
	PrivateUp     bool
	TokenState    types.TokenState

	Books map[string]*book.Book

	OpenOrders map[string][]types.OrderResponse // symbol -> bounded, drop-oldest

	AgentInputTokens  int
	AgentOutputTokens int

	RiskParams map[string]float64

	metrics *metrics.Registry
}

// New creates an empty State with its maps initialized.
func New() *State {
	return &State{
		Books:      make(map[string]*book.Book),
		OpenOrders: make(map[string][]types.OrderResponse),
		RiskParams: make(map[string]float64),
	}
}

// SetMetrics attaches the shared metrics registry so per-symbol books can
// record checksum failures and staleness at the point they actually occur.
// Must be called before any book is created (i.e. right after New), since
// bookFor passes it through at construction time.
func (s *State) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Lock and Unlock expose the write lock to the driver, the state's sole
// mutator, so BuildSnapshot's concurrent reads never race a reducer.Update
// call.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// RLock and RUnlock expose the read lock to snapshot readers outside the
// driver goroutine (internal/httpapi).
func (s *State) RLock()   { s.mu.RLock() }
func (s *State) RUnlock() { s.mu.RUnlock() }

// AggregateStatus returns the worse of the two session statuses (§3
// "Connection Status... the aggregate displayed status is the worse of
// the two").
// Severity runs from Connected (best) through Connecting and Reconnecting
// to Disconnected (worst).
func (s *State) AggregateStatus() types.ConnStatus {
	severity := func(st types.ConnStatus) int {
		switch st {
		case types.Connected:
			return 0
		case types.Connecting:
			return 1
		case types.Reconnecting:
			return 2
		default:
			return 3
		}
	}
	if severity(s.PublicStatus) > severity(s.PrivateStatus) {
		return s.PublicStatus
	}
	return s.PrivateStatus
}

func (s *State) bookFor(symbol string) *book.Book {
	b, ok := s.Books[symbol]
	if !ok {
		b = book.New(symbol, s.metrics)
		s.Books[symbol] = b
	}
	return b
}

// EditRiskParam applies an operator-edited advisory risk parameter
// (§4.6 "edit risk parameters"). Persistence to disk is the driver's
// responsibility via internal/store; the reducer only updates in-memory
// state.
func (s *State) EditRiskParam(key string, val float64) {
	s.RiskParams[key] = val
}

func (s *State) recordOrder(symbol string, resp types.OrderResponse) {
	orders := append(s.OpenOrders[symbol], resp)
	if len(orders) > openOrdersCap {
		orders = orders[len(orders)-openOrdersCap:]
	}
	s.OpenOrders[symbol] = orders
}
