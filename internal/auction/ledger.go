package auction

import (
	"context"
	"sync"
	"time"

	"bidhall.org/internal/ids"
)

// Version reported by the engine for operational tooling. Behavior upgrades
// bump this; the persisted-state layout (Snapshot, EscrowEntry, Event) stays
// stable across them.
const engineVersion = "1.0.0"

// MinDuration is the shortest auction the ledger accepts.
const MinDuration = 120 * time.Second

// Archiver receives committed state for durable storage. Calls are
// write-behind: a failing archiver never fails or rolls back the operation.
type Archiver interface {
	SaveAuction(ctx context.Context, snap Snapshot) error
	SaveEscrow(ctx context.Context, entry EscrowEntry) error
	AppendEvent(ctx context.Context, evt Event) error
}

// Config wires a Ledger. Admin is the single owner allowed to start and
// force-end auctions; there is no ambient authority. Oracle and Native are
// required. Clock, Sink, Archiver and OnArchiveError are optional.
type Config struct {
	Admin  string
	Oracle Oracle
	Native Rail
	Clock  func() time.Time
	// Sink observes every committed event (stream fan-out, audit).
	Sink func(Event)
	// Archiver persists committed state; errors go to OnArchiveError.
	Archiver       Archiver
	OnArchiveError func(error)
}

type escrowKey struct {
	auctionID uint64
	bidder    string
}

type record struct {
	Snapshot
	registry AssetRegistry
	token    Rail
}

// Ledger owns every auction record and escrow entry. All operations run to
// completion under one mutex: callers race, effects serialize, and no caller
// observes a partially applied operation.
type Ledger struct {
	mu     sync.RWMutex
	admin  string
	oracle Oracle
	native Rail
	clock  func() time.Time
	sink   func(Event)

	archiver   Archiver
	archiveErr func(error)

	auctions map[uint64]*record
	nextID   uint64
	escrow   map[escrowKey]*EscrowEntry
	seq      uint64
	events   []Event
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		admin:      cfg.Admin,
		oracle:     cfg.Oracle,
		native:     cfg.Native,
		clock:      clock,
		sink:       cfg.Sink,
		archiver:   cfg.Archiver,
		archiveErr: cfg.OnArchiveError,
		auctions:   make(map[uint64]*record),
		escrow:     make(map[escrowKey]*EscrowEntry),
	}
}

// Version returns the engine behavior version.
func (l *Ledger) Version() string { return engineVersion }

// Start creates an auction. Admin-only.
func (l *Ledger) Start(ctx context.Context, caller string, p StartParams) (uint64, error) {
	if caller == "" || caller != l.admin {
		return 0, ErrUnauthorized
	}
	if p.Registry == nil {
		return 0, ErrInvalidAsset
	}
	if p.Duration < MinDuration {
		return 0, ErrInvalidDuration
	}
	if p.Token == nil {
		return 0, ErrInvalidPaymentToken
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	id := l.nextID
	l.nextID++

	rec := &record{
		Snapshot: Snapshot{
			ID:            id,
			Seller:        p.Seller,
			AssetID:       p.AssetID,
			RegistryID:    p.Registry.ID(),
			TokenRailID:   p.Token.ID(),
			StartingPrice: p.StartingPrice,
			StartAt:       now,
			EndAt:         now.Add(p.Duration),
			HighestMethod: MethodNone,
		},
		registry: p.Registry,
		token:    p.Token,
	}
	l.auctions[id] = rec

	evt := l.appendEvent(Event{Kind: EventStartBid, AuctionID: id, Party: p.Seller, At: now})
	l.archive(ctx, rec.Snapshot, nil, evt)
	return id, nil
}

// Bid places a bid on behalf of caller. A non-zero nativeAmount bids on the
// native rail; otherwise the caller's full pre-authorized token allowance is
// the bid. End-of-auction checks run before any funds move.
func (l *Ledger) Bid(ctx context.Context, caller string, auctionID uint64, nativeAmount int64) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.auctions[auctionID]
	if !ok {
		return Receipt{}, ErrNotFound
	}

	now := l.clock()
	if l.settleEnded(rec, now) {
		return Receipt{}, ErrAuctionEnded
	}

	allowance, err := rec.token.Allowance(ctx, caller)
	if err != nil {
		return Receipt{}, err
	}
	if nativeAmount > 0 && allowance > 0 {
		return Receipt{}, ErrAmbiguousBid
	}

	method, rail, amount := MethodNative, l.native, nativeAmount
	if nativeAmount == 0 {
		if allowance == 0 {
			return Receipt{}, ErrEmptyBid
		}
		method, rail, amount = MethodToken, rec.token, allowance
	}

	reference, err := l.oracle.Quote(ctx, rail.ID(), amount)
	if err != nil {
		return Receipt{}, err
	}

	if rec.HighestBidder == "" {
		if reference < rec.StartingPrice {
			return Receipt{}, &BidTooLowError{Reference: reference, Threshold: rec.StartingPrice, Starting: true}
		}
	} else {
		highestRail := l.native
		if rec.HighestMethod == MethodToken {
			highestRail = rec.token
		}
		highestRef, err := l.oracle.Quote(ctx, highestRail.ID(), rec.HighestBid)
		if err != nil {
			return Receipt{}, err
		}
		if reference <= highestRef {
			return Receipt{}, &BidTooLowError{Reference: reference, Threshold: highestRef}
		}
	}

	// Funds move last: a rail failure leaves the record untouched.
	if err := rail.Pull(ctx, caller, amount); err != nil {
		return Receipt{}, err
	}

	key := escrowKey{auctionID: auctionID, bidder: caller}
	entry, ok := l.escrow[key]
	if !ok {
		entry = &EscrowEntry{AuctionID: auctionID, Bidder: caller}
		l.escrow[key] = entry
	}
	if method == MethodNative {
		entry.Native += amount
	} else {
		entry.Token += amount
	}

	rec.HighestBid = amount
	rec.HighestBidder = caller
	rec.HighestMethod = method

	evt := l.appendEvent(Event{Kind: EventBid, AuctionID: auctionID, Party: caller, Amount: amount, Method: method, At: now})
	l.archive(ctx, rec.Snapshot, entry, evt)

	return Receipt{AuctionID: auctionID, Bidder: caller, Amount: amount, Method: method, Reference: reference}, nil
}

// EndBidding force-ends an auction ahead of its end time. Admin-only.
func (l *Ledger) EndBidding(ctx context.Context, caller string, auctionID uint64) error {
	if caller == "" || caller != l.admin {
		return ErrUnauthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.auctions[auctionID]
	if !ok {
		return ErrNotFound
	}
	now := l.clock()
	if l.settleEnded(rec, now) {
		return ErrAlreadyEnded
	}
	rec.Ended = true

	evt := l.appendEvent(Event{Kind: EventEndBid, AuctionID: auctionID, Party: caller, At: now})
	l.archive(ctx, rec.Snapshot, nil, evt)
	return nil
}

// Withdraw resolves the caller's settlement path for an ended auction:
// asset to the winner, proceeds to the seller, or the caller's own escrow
// back to a losing bidder. Each path completes at most once; repeating a
// completed path is a successful no-op. External transfers are confirmed
// before the completion flag is set, so a collaborator failure leaves the
// claim retryable.
func (l *Ledger) Withdraw(ctx context.Context, caller string, auctionID uint64) (Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.auctions[auctionID]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	now := l.clock()
	if !l.settleEnded(rec, now) {
		return Withdrawal{}, ErrAuctionNotEnded
	}

	none := Withdrawal{AuctionID: auctionID, Party: caller, Claim: ClaimNone}

	// Winner claims the asset.
	if caller != "" && caller == rec.HighestBidder {
		if rec.AssetClaimed {
			return none, nil
		}
		if err := rec.registry.Transfer(ctx, rec.AssetID, rec.Seller, caller); err != nil {
			return Withdrawal{}, err
		}
		rec.AssetClaimed = true
		evt := l.appendEvent(Event{Kind: EventWithdraw, AuctionID: auctionID, Party: caller, Claim: AssetClaim, At: now})
		l.archive(ctx, rec.Snapshot, nil, evt)
		return Withdrawal{AuctionID: auctionID, Party: caller, Claim: AssetClaim}, nil
	}

	// Seller claims the winning funds.
	if caller != "" && caller == rec.Seller {
		if rec.SellerClaimed {
			return none, nil
		}
		amount, method := rec.HighestBid, rec.HighestMethod
		if rec.HighestBidder == "" {
			amount, method = 0, MethodNone
		}
		if amount > 0 {
			rail := l.native
			if method == MethodToken {
				rail = rec.token
			}
			if err := rail.Push(ctx, caller, amount); err != nil {
				return Withdrawal{}, err
			}
		}
		rec.SellerClaimed = true
		evt := l.appendEvent(Event{Kind: EventWithdraw, AuctionID: auctionID, Party: caller, Amount: amount, Method: method, Claim: SellerClaim, At: now})
		l.archive(ctx, rec.Snapshot, nil, evt)
		return Withdrawal{AuctionID: auctionID, Party: caller, Amount: amount, Method: method, Claim: SellerClaim}, nil
	}

	// Losing bidders reclaim their own escrow. The winner's entry stays
	// with the engine: the winning funds are the seller's proceeds.
	entry, ok := l.escrow[escrowKey{auctionID: auctionID, bidder: caller}]
	if !ok || entry.Refunded() {
		return none, nil
	}
	if entry.Native > 0 && !entry.NativeRefunded {
		if err := l.native.Push(ctx, caller, entry.Native); err != nil {
			return Withdrawal{}, err
		}
		entry.NativeRefunded = true
	}
	if entry.Token > 0 && !entry.TokenRefunded {
		if err := rec.token.Push(ctx, caller, entry.Token); err != nil {
			// The native leg, if any, already moved and is flagged; only
			// the token leg stays claimable on retry.
			l.archive(ctx, rec.Snapshot, entry, Event{})
			return Withdrawal{}, err
		}
		entry.TokenRefunded = true
	}
	total := entry.Total()
	evt := l.appendEvent(Event{Kind: EventWithdraw, AuctionID: auctionID, Party: caller, Amount: total, Claim: RefundClaim, At: now})
	l.archive(ctx, rec.Snapshot, entry, evt)
	return Withdrawal{AuctionID: auctionID, Party: caller, Amount: total, Claim: RefundClaim}, nil
}

// Get returns a copy of the auction record.
func (l *Ledger) Get(auctionID uint64) (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.auctions[auctionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return rec.Snapshot, nil
}

// Escrow returns the bidder's cumulative escrow entry for an auction.
// A bidder who never escrowed anything gets a zero entry, not an error.
func (l *Ledger) Escrow(auctionID uint64, bidder string) (EscrowEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.auctions[auctionID]; !ok {
		return EscrowEntry{}, ErrNotFound
	}
	entry, ok := l.escrow[escrowKey{auctionID: auctionID, bidder: bidder}]
	if !ok {
		return EscrowEntry{AuctionID: auctionID, Bidder: bidder}, nil
	}
	return *entry, nil
}

// Count reports how many auctions were ever created; ids run 0..Count()-1
// and are never reused.
func (l *Ledger) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID
}

// List returns copies of every auction record in id order.
func (l *Ledger) List() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, 0, len(l.auctions))
	for id := uint64(0); id < l.nextID; id++ {
		if rec, ok := l.auctions[id]; ok {
			out = append(out, rec.Snapshot)
		}
	}
	return out
}

// Events returns up to limit events with sequence greater than afterSeq,
// plus the last sequence returned for cursor-style paging.
func (l *Ledger) Events(limit int, afterSeq uint64) ([]Event, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var res []Event
	var last uint64
	for _, evt := range l.events {
		if evt.Seq <= afterSeq {
			continue
		}
		res = append(res, evt)
		last = evt.Seq
		if len(res) >= limit {
			break
		}
	}
	return res, last
}

// RestoreDeps resolve stored collaborator ids back to live capabilities.
type RestoreDeps struct {
	RailByID     func(id string) Rail
	RegistryByID func(id string) AssetRegistry
}

// Restore loads previously archived state into an empty ledger. Snapshots
// whose collaborators cannot be resolved are rejected rather than loaded
// half-wired.
func (l *Ledger) Restore(snaps []Snapshot, escrows []EscrowEntry, lastSeq uint64, deps RestoreDeps) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, snap := range snaps {
		registry := deps.RegistryByID(snap.RegistryID)
		if registry == nil {
			return ErrInvalidAsset
		}
		token := deps.RailByID(snap.TokenRailID)
		if token == nil {
			return ErrInvalidPaymentToken
		}
		l.auctions[snap.ID] = &record{Snapshot: snap, registry: registry, token: token}
		if snap.ID >= l.nextID {
			l.nextID = snap.ID + 1
		}
	}
	for _, entry := range escrows {
		e := entry
		l.escrow[escrowKey{auctionID: e.AuctionID, bidder: e.Bidder}] = &e
	}
	if lastSeq > l.seq {
		l.seq = lastSeq
	}
	return nil
}

// settleEnded reports whether the auction is over, latching the flag when
// the end time has passed. The flag is monotonic: false to true only.
func (l *Ledger) settleEnded(rec *record, now time.Time) bool {
	if rec.Ended {
		return true
	}
	if !now.Before(rec.EndAt) {
		rec.Ended = true
		return true
	}
	return false
}

func (l *Ledger) appendEvent(evt Event) Event {
	l.seq++
	evt.ID = ids.New()
	evt.Seq = l.seq
	l.events = append(l.events, evt)
	if l.sink != nil {
		l.sink(evt)
	}
	return evt
}

func (l *Ledger) archive(ctx context.Context, snap Snapshot, entry *EscrowEntry, evt Event) {
	if l.archiver == nil {
		return
	}
	report := func(err error) {
		if err != nil && l.archiveErr != nil {
			l.archiveErr(err)
		}
	}
	report(l.archiver.SaveAuction(ctx, snap))
	if entry != nil {
		report(l.archiver.SaveEscrow(ctx, *entry))
	}
	if evt.Seq != 0 {
		report(l.archiver.AppendEvent(ctx, evt))
	}
}
