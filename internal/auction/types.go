package auction

import (
	"context"
	"time"
)

// Method identifies the payment rail a bid rode in on.
type Method int

const (
	MethodNone Method = iota
	MethodNative
	MethodToken
)

func (m Method) String() string {
	switch m {
	case MethodNative:
		return "native"
	case MethodToken:
		return "token"
	default:
		return "none"
	}
}

// ClaimKind identifies one of the three independent settlement paths.
type ClaimKind int

const (
	ClaimNone ClaimKind = iota
	SellerClaim
	AssetClaim
	RefundClaim
)

func (c ClaimKind) String() string {
	switch c {
	case SellerClaim:
		return "seller"
	case AssetClaim:
		return "asset"
	case RefundClaim:
		return "refund"
	default:
		return "none"
	}
}

// Oracle converts a raw rail amount into the reference currency used to
// compare bids across payment methods. Pure function of its inputs at call
// time; the engine owns no oracle state.
type Oracle interface {
	Quote(ctx context.Context, railID string, amount int64) (int64, error)
}

// Rail is the payment capability for one method: it pulls funds from a payer
// into engine escrow and pushes escrowed funds out to a payee. Transfers are
// all-or-nothing; a failed call moves nothing.
type Rail interface {
	ID() string
	Pull(ctx context.Context, payer string, amount int64) error
	Push(ctx context.Context, payee string, amount int64) error
	// Allowance reports how much the payer has pre-authorized the engine to
	// pull. The native rail always reports zero: native value is attached to
	// the call itself.
	Allowance(ctx context.Context, payer string) (int64, error)
}

// AssetRegistry owns the unique assets being auctioned.
type AssetRegistry interface {
	ID() string
	Transfer(ctx context.Context, assetID uint64, from, to string) error
}

// EventKind names an observable ledger transition.
type EventKind string

const (
	EventStartBid EventKind = "start_bid"
	EventBid      EventKind = "bid"
	EventEndBid   EventKind = "end_bid"
	EventWithdraw EventKind = "withdraw"
)

// Event is the structured record each operation exposes for external
// indexers. Seq is monotonic across the ledger.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"sequence"`
	Kind      EventKind `json:"kind"`
	AuctionID uint64    `json:"auction_id"`
	Party     string    `json:"party,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Method    Method    `json:"method,omitempty"`
	Claim     ClaimKind `json:"claim,omitempty"`
	At        time.Time `json:"at"`
}

// StartParams are the creation inputs for one auction. Registry and Token
// are live collaborator references and both must be non-nil.
type StartParams struct {
	Seller        string
	AssetID       uint64
	Registry      AssetRegistry
	StartingPrice int64 // reference currency
	Duration      time.Duration
	Token         Rail
}

// Snapshot is the read-only view of an auction record. Collaborator
// references are reduced to their ids so the layout survives behavior
// upgrades and round-trips through storage.
type Snapshot struct {
	ID            uint64    `json:"id"`
	Seller        string    `json:"seller"`
	AssetID       uint64    `json:"asset_id"`
	RegistryID    string    `json:"registry_id"`
	TokenRailID   string    `json:"token_rail_id"`
	StartingPrice int64     `json:"starting_price"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	HighestBid    int64     `json:"highest_bid"`
	HighestBidder string    `json:"highest_bidder,omitempty"`
	HighestMethod Method    `json:"highest_method"`
	Ended         bool      `json:"ended"`
	AssetClaimed  bool      `json:"asset_claimed"`
	SellerClaimed bool      `json:"seller_claimed"`
}

// EscrowEntry is a bidder's cumulative escrow for one auction, split by
// rail so refunds are pushed back the way they came in. Amounts only grow;
// release is flag-gated per leg, never decremented.
type EscrowEntry struct {
	AuctionID      uint64 `json:"auction_id"`
	Bidder         string `json:"bidder"`
	Native         int64  `json:"native"`
	Token          int64  `json:"token"`
	NativeRefunded bool   `json:"native_refunded"`
	TokenRefunded  bool   `json:"token_refunded"`
}

// Total is the bidder's combined raw escrow across both rails.
func (e EscrowEntry) Total() int64 { return e.Native + e.Token }

// Refunded reports whether every funded leg of the entry was pushed back.
func (e EscrowEntry) Refunded() bool {
	if e.Native == 0 && e.Token == 0 {
		return false
	}
	return (e.Native == 0 || e.NativeRefunded) && (e.Token == 0 || e.TokenRefunded)
}

// Receipt describes an accepted bid.
type Receipt struct {
	AuctionID uint64 `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"` // raw, in the bid's own rail units
	Method    Method `json:"method"`
	Reference int64  `json:"reference"` // oracle quote used for comparison
}

// Withdrawal describes the settlement path a withdraw call resolved to.
// Claim is ClaimNone when every path available to the caller was already
// completed; repeating a claim is a successful no-op, never an error.
type Withdrawal struct {
	AuctionID uint64    `json:"auction_id"`
	Party     string    `json:"party"`
	Amount    int64     `json:"amount"`
	Method    Method    `json:"method"`
	Claim     ClaimKind `json:"claim"`
}
