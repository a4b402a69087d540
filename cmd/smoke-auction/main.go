package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"bidhall.org/internal/auction"
	"bidhall.org/internal/oracle"
	"bidhall.org/internal/rail"
	"bidhall.org/internal/registry"
)

// Runs one full auction lifecycle against an in-process engine and checks
// that every unit of escrow ends up with the seller or back with a bidder.
func main() {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	quotes, err := oracle.NewFixedRates(map[string]oracle.Rate{
		"native":    {Num: 2289, Den: 1},
		"usd-token": {Num: 1, Den: 1},
	})
	if err != nil {
		log.Fatalf("oracle: %v", err)
	}

	native := rail.NewNative("native")
	token := rail.NewToken("usd-token")
	assets := registry.NewMemory("assets")

	led := auction.New(auction.Config{
		Admin:  "admin",
		Oracle: quotes,
		Native: native,
		Clock:  clock,
	})

	assets.Mint(1, "seller")
	assets.Approve(1, true)
	native.Mint("alice", 10)
	token.Mint("bob", 10_000)
	token.Approve("bob", 4_000)

	ctx := context.Background()

	id, err := led.Start(ctx, "admin", auction.StartParams{
		Seller:        "seller",
		AssetID:       1,
		Registry:      assets,
		StartingPrice: 1_000,
		Duration:      3 * time.Minute,
		Token:         token,
	})
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	if _, err := led.Bid(ctx, "alice", id, 1); err != nil {
		log.Fatalf("native bid: %v", err)
	}
	if _, err := led.Bid(ctx, "bob", id, 0); err != nil {
		log.Fatalf("token bid: %v", err)
	}

	now = now.Add(4 * time.Minute)

	for _, party := range []string{"bob", "seller", "alice"} {
		if _, err := led.Withdraw(ctx, party, id); err != nil {
			log.Fatalf("withdraw %s: %v", party, err)
		}
	}

	if owner, _ := assets.OwnerOf(1); owner != "bob" {
		log.Fatalf("asset not delivered to winner: owner=%s", owner)
	}
	if got := token.Balance("seller"); got != 4_000 {
		log.Fatalf("seller proceeds: %d", got)
	}
	if got := native.Balance("alice"); got != 10 {
		log.Fatalf("alice refund: %d", got)
	}
	if held := native.Held() + token.Held(); held != 0 {
		log.Fatalf("escrow not fully released: %d", held)
	}

	fmt.Printf("auction smoke test passed: auction=%d version=%s\n", id, led.Version())
}
