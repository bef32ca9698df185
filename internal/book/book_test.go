package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"deskbot/pkg/types"
)

func lvl(price, qty string) types.Level {
	return types.Level{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func TestApplySnapshotReplacesAndResets(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	b.IsStale = true
	b.ChecksumFailures = 2

	b.ApplySnapshot(types.BookSnapshot{
		Symbol:   "X",
		Bids:     []types.Level{lvl("100", "1")},
		Asks:     []types.Level{lvl("101", "2")},
		Checksum: 12345,
	})

	if b.IsStale {
		t.Error("IsStale should be false after snapshot")
	}
	if b.ChecksumFailures != 0 {
		t.Errorf("ChecksumFailures = %d, want 0", b.ChecksumFailures)
	}
	if len(b.Bids) != 1 || len(b.Asks) != 1 {
		t.Fatalf("expected exactly one level per side")
	}
	if b.Checksum != 12345 {
		t.Errorf("Checksum = %d, want 12345", b.Checksum)
	}
}

func TestApplyUpdateUpsertAndDelete(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	b.ApplySnapshot(types.BookSnapshot{
		Bids: []types.Level{lvl("100", "1"), lvl("99", "1")},
		Asks: []types.Level{lvl("101", "1"), lvl("102", "1")},
	})

	checksum := Checksum(
		[]types.Level{lvl("101", "1"), lvl("102", "1")},
		[]types.Level{lvl("100", "2"), lvl("99", "1")},
	)

	match := b.ApplyUpdate(types.BookUpdate{
		Bids:     []types.Level{lvl("100", "2")},
		Checksum: checksum,
	})

	if !match {
		t.Fatal("expected checksum match")
	}
	if !b.Bids[0].Qty.Equal(decimal.RequireFromString("2")) {
		t.Errorf("Bids[0].Qty = %v, want 2", b.Bids[0].Qty)
	}

	// delete bid at 99 via zero qty
	checksum2 := Checksum(
		[]types.Level{lvl("101", "1"), lvl("102", "1")},
		[]types.Level{lvl("100", "2")},
	)
	match = b.ApplyUpdate(types.BookUpdate{
		Bids:     []types.Level{lvl("99", "0")},
		Checksum: checksum2,
	})
	if !match {
		t.Fatal("expected checksum match after deletion")
	}
	if len(b.Bids) != 1 {
		t.Fatalf("len(Bids) = %d, want 1 after deleting 99", len(b.Bids))
	}
}

func TestApplyUpdatePreservesSortOrder(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	b.ApplySnapshot(types.BookSnapshot{
		Bids: []types.Level{lvl("100", "1")},
		Asks: []types.Level{lvl("101", "1")},
	})

	b.ApplyUpdate(types.BookUpdate{
		Bids: []types.Level{lvl("100.5", "1")},
	})

	if !b.Valid() {
		t.Fatal("book invariants violated after update")
	}
	if !b.Bids[0].Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("expected 100.5 to sort to the front of bids")
	}
}

func TestMismatchPolicySetsStaleAndRequestsResync(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	b.ApplySnapshot(types.BookSnapshot{
		Bids: []types.Level{lvl("100", "1")},
		Asks: []types.Level{lvl("101", "1")},
	})

	now := time.Now()
	shouldResync := b.OnMismatch(now)

	if !shouldResync {
		t.Error("first mismatch should request resync")
	}
	if !b.IsStale {
		t.Error("IsStale should be true after mismatch")
	}
	if b.ChecksumFailures != 1 {
		t.Errorf("ChecksumFailures = %d, want 1", b.ChecksumFailures)
	}
}

func TestMismatchCooldownSuppressesSecondResync(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	now := time.Now()
	b.OnMismatch(now)

	shouldResync := b.OnMismatch(now.Add(1 * time.Second))

	if shouldResync {
		t.Error("resync within cooldown window should be suppressed")
	}
	if b.ChecksumFailures != 2 {
		t.Errorf("ChecksumFailures = %d, want 2", b.ChecksumFailures)
	}
}

func TestFourthConsecutiveFailureDoesNotResync(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	now := time.Now()

	b.OnMismatch(now)
	b.OnMismatch(now.Add(10 * time.Second))
	b.OnMismatch(now.Add(20 * time.Second))
	shouldResync := b.OnMismatch(now.Add(30 * time.Second))

	if shouldResync {
		t.Error("fourth consecutive checksum failure must not emit a resync action")
	}
	if b.ChecksumFailures != 4 {
		t.Errorf("ChecksumFailures = %d, want 4", b.ChecksumFailures)
	}
}

func TestMatchClearsStaleness(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	b.ApplySnapshot(types.BookSnapshot{
		Bids: []types.Level{lvl("100", "1")},
		Asks: []types.Level{lvl("101", "1")},
	})
	b.OnMismatch(time.Now())

	checksum := Checksum(b.Asks, b.Bids)
	b.ApplyUpdate(types.BookUpdate{Checksum: checksum})

	if b.IsStale {
		t.Error("expected IsStale cleared on matching checksum")
	}
	if b.ChecksumFailures != 0 {
		t.Errorf("ChecksumFailures = %d, want 0", b.ChecksumFailures)
	}
}

func TestInsertionIntoFullSideEvictsFarEnd(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	bids := make([]types.Level, 0, MaxLevels)
	for i := 0; i < MaxLevels; i++ {
		bids = append(bids, lvl(decimal.NewFromInt(int64(1000-i)).String(), "1"))
	}
	b.ApplySnapshot(types.BookSnapshot{Bids: bids, Asks: []types.Level{lvl("2000", "1")}})

	if len(b.Bids) != MaxLevels {
		t.Fatalf("len(Bids) = %d, want %d", len(b.Bids), MaxLevels)
	}

	b.ApplyUpdate(types.BookUpdate{Bids: []types.Level{lvl("5000", "1")}})

	if len(b.Bids) != MaxLevels {
		t.Fatalf("len(Bids) = %d after insert, want %d", len(b.Bids), MaxLevels)
	}
	if !b.Bids[0].Price.Equal(decimal.RequireFromString("5000")) {
		t.Error("new best bid should be at the front")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	t.Parallel()
	asks := []types.Level{lvl("101.50", "2.00")}
	bids := []types.Level{lvl("100.25", "1.00")}

	c1 := Checksum(asks, bids)
	c2 := Checksum(asks, bids)

	if c1 != c2 {
		t.Errorf("Checksum not deterministic: %d != %d", c1, c2)
	}
}

func TestMidPriceEmptyBook(t *testing.T) {
	t.Parallel()
	b := New("X", nil)
	_, ok := b.MidPrice()
	if ok {
		t.Error("expected ok=false for empty book")
	}
}
