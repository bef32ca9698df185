// Package book implements the Order Book Engine (§4.5): snapshot and
// incremental-diff application, binary-search insertion maintaining sort
// order, a CRC32 checksum verified against the exchange's reported value,
// and the checksum-mismatch resync policy.
//
// Book is deliberately side-effect-free: it performs no I/O and owns no
// goroutines, so it is exercised directly by tests without any bus or
// session machinery, matching the teacher's RWMutex-protected Book shape
// in internal/market/book.go generalized to real incremental updates and
// checksum verification in the style of gocryptotrader's orderbook buffer.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// MaxLevels is the per-side capacity; excess is truncated from the far end
// after every mutation (§3 "Each side bounded by 1000 levels").
const MaxLevels = 1000

// ResyncCooldown and MaxChecksumFailures implement the mismatch policy's
// thrash guard (§4.5 "Mismatch policy").
const (
	ResyncCooldown       = 5 * time.Second
	MaxChecksumFailures  = 3
)

// Book is the per-symbol order book state.
type Book struct {
	Symbol  string
	Bids    []types.Level // descending by price
	Asks    []types.Level // ascending by price

	Checksum           uint32
	IsStale            bool
	ChecksumFailures   int
	LastResyncRequest  time.Time

	staleSince time.Time
	metrics    *metrics.Registry
}

// New creates an empty book for symbol. m may be nil, in which case no
// metrics are recorded (tests construct books this way).
func New(symbol string, m *metrics.Registry) *Book {
	return &Book{Symbol: symbol, metrics: m}
}

// ApplySnapshot replaces both sides entirely (§4.5 "Snapshot").
func (b *Book) ApplySnapshot(snap types.BookSnapshot) {
	b.Bids = sortedCopy(snap.Bids, true)
	b.Asks = sortedCopy(snap.Asks, false)
	b.Checksum = snap.Checksum
	b.IsStale = false
	b.ChecksumFailures = 0
	b.LastResyncRequest = time.Time{}
}

func sortedCopy(levels []types.Level, descending bool) []types.Level {
	out := make([]types.Level, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if len(out) > MaxLevels {
		out = out[:MaxLevels]
	}
	return out
}

// ApplyUpdate applies an incremental diff (§4.5 "Incremental update"): each
// level with quantity > 0 is upserted by price via binary-search insertion;
// quantity == 0 deletes the matching price. After applying all deltas each
// side is truncated to MaxLevels. Returns whether the locally computed
// checksum (over the new top-10/top-10) matches update.Checksum.
func (b *Book) ApplyUpdate(update types.BookUpdate) bool {
	for _, lvl := range update.Bids {
		b.Bids = upsert(b.Bids, lvl, true)
	}
	for _, lvl := range update.Asks {
		b.Asks = upsert(b.Asks, lvl, false)
	}

	if len(b.Bids) > MaxLevels {
		b.Bids = b.Bids[:MaxLevels]
	}
	if len(b.Asks) > MaxLevels {
		b.Asks = b.Asks[:MaxLevels]
	}

	local := Checksum(b.Asks, b.Bids)
	match := local == update.Checksum
	if match {
		b.onMatch(update.Checksum)
	}
	return match
}

// onMatch clears staleness (§4.5 "Match policy").
func (b *Book) onMatch(checksum uint32) {
	b.Checksum = checksum
	b.IsStale = false
	b.ChecksumFailures = 0
	b.staleSince = time.Time{}
	if b.metrics != nil {
		b.metrics.BookStaleness.WithLabelValues(b.Symbol).Set(0)
	}
}

// OnMismatch applies the mismatch policy (§4.5 "Mismatch policy") and
// reports whether a new resync should be requested. now is passed in so
// tests can control the cooldown window deterministically.
func (b *Book) OnMismatch(now time.Time) (shouldResync bool) {
	b.IsStale = true
	b.ChecksumFailures++
	if b.staleSince.IsZero() {
		b.staleSince = now
	}
	if b.metrics != nil {
		b.metrics.ChecksumFailures.WithLabelValues(b.Symbol).Inc()
		b.metrics.BookStaleness.WithLabelValues(b.Symbol).Set(now.Sub(b.staleSince).Seconds())
	}

	if b.ChecksumFailures > MaxChecksumFailures {
		return false
	}
	if !b.LastResyncRequest.IsZero() && now.Sub(b.LastResyncRequest) < ResyncCooldown {
		return false
	}
	b.LastResyncRequest = now
	return true
}

// upsert inserts or replaces lvl by price using binary search to preserve
// sort order (§3 "implementations must use binary-search insertion, not
// sort-after-append"). A zero quantity deletes the matching price.
func upsert(levels []types.Level, lvl types.Level, descending bool) []types.Level {
	less := func(i int) bool {
		if descending {
			return levels[i].Price.LessThan(lvl.Price)
		}
		return levels[i].Price.GreaterThan(lvl.Price)
	}
	idx := sort.Search(len(levels), less)

	// idx now points to the first element "after" lvl's price in sort
	// order; scan backward one step to check for an exact price match.
	matchIdx := -1
	if idx > 0 && levels[idx-1].Price.Equal(lvl.Price) {
		matchIdx = idx - 1
	}

	if lvl.Qty.Sign() == 0 {
		if matchIdx >= 0 {
			return append(levels[:matchIdx], levels[matchIdx+1:]...)
		}
		return levels
	}

	if matchIdx >= 0 {
		levels[matchIdx].Qty = lvl.Qty
		return levels
	}

	levels = append(levels, types.Level{})
	copy(levels[idx+1:], levels[idx:len(levels)-1])
	levels[idx] = lvl
	return levels
}

// BestBidAsk returns the top of book, or ok=false if either side is empty.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// MidPrice returns (bestBid+bestAsk)/2, or ok=false if the book is empty on
// either side.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Valid reports whether the book currently satisfies its invariants (§8):
// bids strictly descending, asks strictly ascending, max bid < min ask, no
// zero-quantity levels, each side within MaxLevels.
func (b *Book) Valid() bool {
	if len(b.Bids) > MaxLevels || len(b.Asks) > MaxLevels {
		return false
	}
	for i := 1; i < len(b.Bids); i++ {
		if !b.Bids[i-1].Price.GreaterThan(b.Bids[i].Price) {
			return false
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if !b.Asks[i-1].Price.LessThan(b.Asks[i].Price) {
			return false
		}
	}
	for _, lvl := range b.Bids {
		if lvl.Qty.Sign() <= 0 {
			return false
		}
	}
	for _, lvl := range b.Asks {
		if lvl.Qty.Sign() <= 0 {
			return false
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
		return false
	}
	return true
}
