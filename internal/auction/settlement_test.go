package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"bidhall.org/internal/registry"
)

// Full native-winner scenario: A bids native, B outbids native, auction
// expires, then the three settlement paths run independently.
func TestSettlementNativeWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)
	f.assets.Mint(1, seller)
	f.assets.Approve(1, true)

	f.bidNative(t, "alice", id, 1) // 2289 reference
	f.bidNative(t, "bob", id, 2)   // 4578 reference
	f.clock.Advance(505 * time.Second)

	// Winner claims the asset.
	w, err := f.ledger.Withdraw(ctx, "bob", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != AssetClaim || w.Amount != 0 {
		t.Fatalf("winner withdrawal %+v", w)
	}
	owner, err := f.assets.OwnerOf(1)
	if err != nil {
		t.Fatal(err)
	}
	if owner != "bob" {
		t.Fatalf("asset owner = %s, want bob", owner)
	}

	// A second winner call performs no further transfer and does not error.
	w, err = f.ledger.Withdraw(ctx, "bob", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != ClaimNone {
		t.Fatalf("repeat winner withdrawal %+v", w)
	}

	// Seller receives exactly the recorded raw highest bid on its rail.
	w, err = f.ledger.Withdraw(ctx, seller, id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != SellerClaim || w.Amount != 2 || w.Method != MethodNative {
		t.Fatalf("seller withdrawal %+v", w)
	}
	if got := f.native.Balance(seller); got != 2 {
		t.Fatalf("seller balance = %d, want 2", got)
	}
	if w, err = f.ledger.Withdraw(ctx, seller, id); err != nil || w.Claim != ClaimNone {
		t.Fatalf("repeat seller withdrawal %+v err %v", w, err)
	}

	// The losing bidder reclaims exactly their own escrow.
	w, err = f.ledger.Withdraw(ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != RefundClaim || w.Amount != 1 {
		t.Fatalf("loser withdrawal %+v", w)
	}
	if got := f.native.Balance("alice"); got != 1 {
		t.Fatalf("alice balance = %d, want 1", got)
	}
	if w, err = f.ledger.Withdraw(ctx, "alice", id); err != nil || w.Claim != ClaimNone {
		t.Fatalf("repeat loser withdrawal %+v err %v", w, err)
	}

	// All three paths done: the rail holds nothing for this auction.
	if f.native.Held() != 0 {
		t.Fatalf("stranded escrow %d", f.native.Held())
	}
}

// Token-winner scenario: the winner bid twice on the token rail; only the
// second raw amount goes to the seller, the native loser gets their native
// escrow back, and the winner's own entry is not refundable.
func TestSettlementTokenWinnerWithCumulativeEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)
	f.assets.Mint(1, seller)
	f.assets.Approve(1, true)

	f.bidToken(t, "carol", id, 2000) // 2000 reference
	f.bidNative(t, "dave", id, 1)    // 2289 reference
	f.bidToken(t, "carol", id, 4000) // 4000 reference, carol escrow now 6000
	f.clock.Advance(505 * time.Second)

	w, err := f.ledger.Withdraw(ctx, "carol", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != AssetClaim {
		t.Fatalf("winner withdrawal %+v", w)
	}

	w, err = f.ledger.Withdraw(ctx, seller, id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != SellerClaim || w.Amount != 4000 || w.Method != MethodToken {
		t.Fatalf("seller withdrawal %+v, want raw 4000 token", w)
	}
	if got := f.token.Balance(seller); got != 4000 {
		t.Fatalf("seller token balance = %d, want 4000", got)
	}

	w, err = f.ledger.Withdraw(ctx, "dave", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != RefundClaim || w.Amount != 1 {
		t.Fatalf("loser withdrawal %+v", w)
	}

	// Carol is the winner: her escrow entry, including the 2000 that did
	// not win, is excluded from the refund path.
	entry, err := f.ledger.Escrow(id, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Token != 6000 || entry.Refunded() {
		t.Fatalf("winner escrow entry %+v", entry)
	}
}

// A seller claim with no bids at all transfers zero and still latches.
func TestSellerClaimWithoutBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)
	f.clock.Advance(505 * time.Second)

	w, err := f.ledger.Withdraw(ctx, seller, id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != SellerClaim || w.Amount != 0 || w.Method != MethodNone {
		t.Fatalf("no-bid seller withdrawal %+v", w)
	}
	snap, _ := f.ledger.Get(id)
	if !snap.SellerClaimed {
		t.Fatal("seller claim flag not set")
	}
	if w, err = f.ledger.Withdraw(ctx, seller, id); err != nil || w.Claim != ClaimNone {
		t.Fatalf("repeat no-bid seller withdrawal %+v err %v", w, err)
	}
}

// A missing asset authorization surfaces the registry error verbatim and
// leaves the claim retryable once the owner grants approval.
func TestAssetClaimRetryAfterAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)
	f.assets.Mint(1, seller)

	f.bidNative(t, "alice", id, 1)
	f.clock.Advance(505 * time.Second)

	if _, err := f.ledger.Withdraw(ctx, "alice", id); !errors.Is(err, registry.ErrNotAuthorized) {
		t.Fatalf("expected registry authorization error, got %v", err)
	}
	snap, _ := f.ledger.Get(id)
	if snap.AssetClaimed {
		t.Fatal("failed transfer must not set the claim flag")
	}

	f.assets.Approve(1, true)
	w, err := f.ledger.Withdraw(ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != AssetClaim {
		t.Fatalf("retry withdrawal %+v", w)
	}
}

// A bidder who split escrow across both rails gets both legs back.
func TestRefundAcrossBothRails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)

	f.bidToken(t, "erin", id, 1200)  // 1200 reference
	f.bidNative(t, "erin", id, 1)    // 2289 reference, same bidder switches rails
	f.bidToken(t, "frank", id, 5000) // frank wins
	f.clock.Advance(505 * time.Second)

	w, err := f.ledger.Withdraw(ctx, "erin", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != RefundClaim || w.Amount != 1201 {
		t.Fatalf("two-rail refund %+v", w)
	}
	if f.native.Balance("erin") != 1 || f.token.Balance("erin") != 1200 {
		t.Fatalf("refund landed wrong: native=%d token=%d",
			f.native.Balance("erin"), f.token.Balance("erin"))
	}
}

// A stranger to the auction gets a no-op, not an error.
func TestWithdrawByStranger(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 1000, 500*time.Second)
	f.clock.Advance(505 * time.Second)

	w, err := f.ledger.Withdraw(context.Background(), "nobody", id)
	if err != nil {
		t.Fatal(err)
	}
	if w.Claim != ClaimNone {
		t.Fatalf("stranger withdrawal %+v", w)
	}
}

func TestWithdrawEmitsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, 1000, 500*time.Second)
	f.assets.Mint(1, seller)
	f.assets.Approve(1, true)
	f.bidNative(t, "alice", id, 1)
	f.bidNative(t, "bob", id, 2)
	f.clock.Advance(505 * time.Second)

	if _, err := f.ledger.Withdraw(ctx, "bob", id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Withdraw(ctx, seller, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Withdraw(ctx, "alice", id); err != nil {
		t.Fatal(err)
	}

	events, _ := f.ledger.Events(100, 0)
	var claims []ClaimKind
	for _, evt := range events {
		if evt.Kind == EventWithdraw {
			claims = append(claims, evt.Claim)
		}
	}
	want := []ClaimKind{AssetClaim, SellerClaim, RefundClaim}
	if len(claims) != len(want) {
		t.Fatalf("withdraw events %v", claims)
	}
	for i := range want {
		if claims[i] != want[i] {
			t.Fatalf("claim order %v, want %v", claims, want)
		}
	}
}
