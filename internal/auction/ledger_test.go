package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bidhall.org/internal/oracle"
	"bidhall.org/internal/rail"
	"bidhall.org/internal/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ledger *Ledger
	clock  *fakeClock
	native *rail.Memory
	token  *rail.Memory
	assets *registry.Memory
	events []Event
}

const (
	admin  = "admin"
	seller = "seller"
)

// Rates: 1 native raw unit = 2289 reference units, 1 token raw unit = 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	o, err := oracle.NewFixedRates(map[string]oracle.Rate{
		"native":    {Num: 2289, Den: 1},
		"usd-token": {Num: 1, Den: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		native: rail.NewNative("native"),
		token:  rail.NewToken("usd-token"),
		assets: registry.NewMemory("assets"),
	}
	f.ledger = New(Config{
		Admin:  admin,
		Oracle: o,
		Native: f.native,
		Clock:  f.clock.Now,
		Sink:   func(evt Event) { f.events = append(f.events, evt) },
	})
	return f
}

func (f *fixture) start(t *testing.T, price int64, d time.Duration) uint64 {
	t.Helper()
	id, err := f.ledger.Start(context.Background(), admin, StartParams{
		Seller:        seller,
		AssetID:       1,
		Registry:      f.assets,
		StartingPrice: price,
		Duration:      d,
		Token:         f.token,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return id
}

func (f *fixture) bidNative(t *testing.T, bidder string, id uint64, amount int64) Receipt {
	t.Helper()
	f.native.Mint(bidder, amount)
	rec, err := f.ledger.Bid(context.Background(), bidder, id, amount)
	if err != nil {
		t.Fatalf("native bid %d by %s: %v", amount, bidder, err)
	}
	return rec
}

func (f *fixture) bidToken(t *testing.T, bidder string, id uint64, amount int64) Receipt {
	t.Helper()
	f.token.Mint(bidder, amount)
	f.token.Approve(bidder, amount)
	rec, err := f.ledger.Bid(context.Background(), bidder, id, 0)
	if err != nil {
		t.Fatalf("token bid %d by %s: %v", amount, bidder, err)
	}
	return rec
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := StartParams{
		Seller:        seller,
		AssetID:       1,
		Registry:      f.assets,
		StartingPrice: 1000,
		Duration:      500 * time.Second,
		Token:         f.token,
	}

	if _, err := f.ledger.Start(ctx, "mallory", valid); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin start: %v", err)
	}

	p := valid
	p.Registry = nil
	if _, err := f.ledger.Start(ctx, admin, p); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("nil registry: %v", err)
	}

	p = valid
	p.Duration = 119 * time.Second
	if _, err := f.ledger.Start(ctx, admin, p); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("duration 119s: %v", err)
	}

	p = valid
	p.Token = nil
	if _, err := f.ledger.Start(ctx, admin, p); !errors.Is(err, ErrInvalidPaymentToken) {
		t.Fatalf("nil token: %v", err)
	}

	p = valid
	p.Duration = 120 * time.Second
	if _, err := f.ledger.Start(ctx, admin, p); err != nil {
		t.Fatalf("duration exactly 120s should succeed: %v", err)
	}
}

func TestStartRecordsAuction(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	if id != 0 {
		t.Fatalf("first id = %d, want 0", id)
	}
	if got := f.ledger.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	snap, err := f.ledger.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Seller != seller || snap.AssetID != 1 || snap.StartingPrice != 1000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.RegistryID != "assets" || snap.TokenRailID != "usd-token" {
		t.Fatalf("unexpected collaborator ids: %+v", snap)
	}
	if !snap.EndAt.Equal(snap.StartAt.Add(500 * time.Second)) {
		t.Fatalf("end time %v not start+duration", snap.EndAt)
	}
	if snap.Ended || snap.HighestBid != 0 || snap.HighestBidder != "" || snap.HighestMethod != MethodNone {
		t.Fatalf("fresh auction not empty: %+v", snap)
	}

	if next := f.start(t, 1, 120*time.Second); next != 1 {
		t.Fatalf("second id = %d, want 1", next)
	}
}

func TestFirstBidStartingPriceBoundary(t *testing.T) {
	// Token rail converts 1:1, so the boundary is exact.
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)

	f.token.Mint("alice", 2000)
	f.token.Approve("alice", 999)
	_, err := f.ledger.Bid(context.Background(), "alice", id, 0)
	if !errors.Is(err, ErrBelowStartingPrice) {
		t.Fatalf("expected ErrBelowStartingPrice, got %v", err)
	}
	var tooLow *BidTooLowError
	if !errors.As(err, &tooLow) || tooLow.Threshold != 1000 || tooLow.Reference != 999 {
		t.Fatalf("missing threshold diagnostics: %v", err)
	}

	f.token.Approve("alice", 1000)
	rec, err := f.ledger.Bid(context.Background(), "alice", id, 0)
	if err != nil {
		t.Fatalf("bid exactly at starting price: %v", err)
	}
	if rec.Method != MethodToken || rec.Amount != 1000 || rec.Reference != 1000 {
		t.Fatalf("unexpected receipt: %+v", rec)
	}
}

func TestEmptyAndAmbiguousBids(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	ctx := context.Background()

	if _, err := f.ledger.Bid(ctx, "alice", id, 0); !errors.Is(err, ErrEmptyBid) {
		t.Fatalf("expected ErrEmptyBid, got %v", err)
	}

	f.native.Mint("alice", 5)
	f.token.Mint("alice", 2000)
	f.token.Approve("alice", 2000)
	if _, err := f.ledger.Bid(ctx, "alice", id, 5); !errors.Is(err, ErrAmbiguousBid) {
		t.Fatalf("expected ErrAmbiguousBid, got %v", err)
	}
	if f.native.Held() != 0 || f.token.Held() != 0 {
		t.Fatal("rejected bids must not move funds")
	}
}

func TestCrossMethodComparisonUsesReferenceCurrency(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)

	// 2 native units = 4578 reference.
	f.bidNative(t, "alice", id, 2)

	// 4578 tokens = 4578 reference: equal is not enough.
	f.token.Mint("bob", 10_000)
	f.token.Approve("bob", 4578)
	_, err := f.ledger.Bid(context.Background(), "bob", id, 0)
	if !errors.Is(err, ErrBelowHighestBid) {
		t.Fatalf("expected ErrBelowHighestBid, got %v", err)
	}
	var tooLow *BidTooLowError
	if !errors.As(err, &tooLow) || tooLow.Threshold != 4578 {
		t.Fatalf("missing threshold diagnostics: %v", err)
	}

	// One token more wins despite the much smaller raw native amount.
	f.token.Approve("bob", 4579)
	rec, err := f.ledger.Bid(context.Background(), "bob", id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Method != MethodToken || rec.Amount != 4579 {
		t.Fatalf("unexpected receipt: %+v", rec)
	}

	snap, _ := f.ledger.Get(id)
	if snap.HighestBidder != "bob" || snap.HighestBid != 4579 || snap.HighestMethod != MethodToken {
		t.Fatalf("highest record not updated: %+v", snap)
	}
}

func TestBidAfterEndMovesNoFunds(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	f.bidNative(t, "alice", id, 1)
	heldBefore := f.native.Held()

	f.clock.Advance(505 * time.Second)
	f.native.Mint("bob", 10)
	if _, err := f.ledger.Bid(context.Background(), "bob", id, 10); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("expected ErrAuctionEnded, got %v", err)
	}
	if f.native.Held() != heldBefore {
		t.Fatal("expired bid moved funds")
	}

	snap, _ := f.ledger.Get(id)
	if !snap.Ended {
		t.Fatal("expiry check should latch the ended flag")
	}
}

func TestEndBidding(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	ctx := context.Background()

	if err := f.ledger.EndBidding(ctx, "mallory", id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin end: %v", err)
	}
	if err := f.ledger.EndBidding(ctx, admin, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown auction: %v", err)
	}

	if err := f.ledger.EndBidding(ctx, admin, id); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.EndBidding(ctx, admin, id); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("double end: %v", err)
	}

	// Forced end blocks bids regardless of remaining time.
	f.native.Mint("alice", 10)
	if _, err := f.ledger.Bid(ctx, "alice", id, 10); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("bid after forced end: %v", err)
	}
}

func TestEndBiddingAfterExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	f.clock.Advance(501 * time.Second)
	if err := f.ledger.EndBidding(context.Background(), admin, id); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("end after expiry: %v", err)
	}
}

func TestSameBidderEscrowAccumulates(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)

	f.bidToken(t, "alice", id, 1500)
	f.bidToken(t, "alice", id, 2500)

	entry, err := f.ledger.Escrow(id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Token != 4000 {
		t.Fatalf("escrow = %d, want cumulative 4000", entry.Token)
	}

	// Only the latest accepted raw amount is the settlement record.
	snap, _ := f.ledger.Get(id)
	if snap.HighestBid != 2500 || snap.HighestMethod != MethodToken {
		t.Fatalf("highest = %+v, want raw 2500 token", snap)
	}
}

func TestWithdrawBeforeEnd(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	if _, err := f.ledger.Withdraw(context.Background(), "anyone", id); !errors.Is(err, ErrAuctionNotEnded) {
		t.Fatalf("expected ErrAuctionNotEnded, got %v", err)
	}
}

func TestEventsLog(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	f.bidNative(t, "alice", id, 1)

	events, last := f.ledger.Events(10, 0)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != EventStartBid || events[0].AuctionID != id {
		t.Fatalf("first event %+v", events[0])
	}
	if events[1].Kind != EventBid || events[1].Party != "alice" || events[1].Method != MethodNative {
		t.Fatalf("second event %+v", events[1])
	}
	if events[0].ID == "" || events[1].ID == "" {
		t.Fatal("events must carry ids")
	}
	if last != events[1].Seq {
		t.Fatalf("cursor %d != last seq %d", last, events[1].Seq)
	}

	// Cursor paging resumes after the given sequence.
	rest, _ := f.ledger.Events(10, events[0].Seq)
	if len(rest) != 1 || rest[0].Seq != events[1].Seq {
		t.Fatalf("paged events %+v", rest)
	}

	if len(f.events) != 2 {
		t.Fatalf("sink saw %d events, want 2", len(f.events))
	}
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	if got := f.ledger.Version(); got != "1.0.0" {
		t.Fatalf("version = %q", got)
	}
}

func TestConcurrentBiddersConserveEscrow(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1, 500*time.Second)

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := string(rune('a'+i%26)) + "-bidder"
			f.native.Mint(bidder, int64(i+1))
			_, _ = f.ledger.Bid(context.Background(), bidder, id, int64(i+1))
		}(i)
	}
	wg.Wait()

	// Whatever subset of bids was accepted, per-bidder escrow must equal
	// the rail's held balance.
	var sum int64
	for i := 0; i < 26; i++ {
		bidder := string(rune('a'+i)) + "-bidder"
		entry, err := f.ledger.Escrow(id, bidder)
		if err != nil {
			t.Fatal(err)
		}
		sum += entry.Native
	}
	if sum != f.native.Held() {
		t.Fatalf("escrow sum %d != rail held %d", sum, f.native.Held())
	}
}
