package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bidhall.org/internal/auction"
)

// Store is the write-behind archive for engine state and the read side used
// to restore an empty ledger on start-up.
type Store struct {
	db *sql.DB
}

var _ auction.Archiver = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle. Used by tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SaveAuction upserts the full auction row. The ledger owns the state; the
// archive just mirrors the latest committed snapshot.
func (s *Store) SaveAuction(ctx context.Context, snap auction.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auctions(
			id, seller, asset_id, registry_id, token_rail_id, starting_price,
			start_at, end_at, highest_bid, highest_bidder, highest_method,
			ended, asset_claimed, seller_claimed, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now())
		on conflict (id) do update set
			highest_bid    = excluded.highest_bid,
			highest_bidder = excluded.highest_bidder,
			highest_method = excluded.highest_method,
			ended          = excluded.ended,
			asset_claimed  = excluded.asset_claimed,
			seller_claimed = excluded.seller_claimed,
			updated_at     = now()
	`, snap.ID, snap.Seller, snap.AssetID, snap.RegistryID, snap.TokenRailID,
		snap.StartingPrice, snap.StartAt, snap.EndAt, snap.HighestBid,
		snap.HighestBidder, int16(snap.HighestMethod), snap.Ended,
		snap.AssetClaimed, snap.SellerClaimed)
	return err
}

// SaveEscrow upserts one bidder's cumulative escrow entry.
func (s *Store) SaveEscrow(ctx context.Context, entry auction.EscrowEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into escrow_entries(
			auction_id, bidder, native, token, native_refunded, token_refunded, updated_at)
		values ($1,$2,$3,$4,$5,$6, now())
		on conflict (auction_id, bidder) do update set
			native          = excluded.native,
			token           = excluded.token,
			native_refunded = excluded.native_refunded,
			token_refunded  = excluded.token_refunded,
			updated_at      = now()
	`, entry.AuctionID, entry.Bidder, entry.Native, entry.Token,
		entry.NativeRefunded, entry.TokenRefunded)
	return err
}

// AppendEvent records one ledger event. Seq is the primary key, so replayed
// archive calls after a crash are harmless.
func (s *Store) AppendEvent(ctx context.Context, evt auction.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auction_events(seq, id, kind, auction_id, party, amount, method, claim, at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (seq) do nothing
	`, evt.Seq, evt.ID, string(evt.Kind), evt.AuctionID, evt.Party, evt.Amount,
		int16(evt.Method), int16(evt.Claim), evt.At)
	return err
}

// LoadAuctions returns every archived auction snapshot ordered by id.
func (s *Store) LoadAuctions(ctx context.Context) ([]auction.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, seller, asset_id, registry_id, token_rail_id, starting_price,
		       start_at, end_at, highest_bid, highest_bidder, highest_method,
		       ended, asset_claimed, seller_claimed
		from auctions order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []auction.Snapshot
	for rows.Next() {
		var snap auction.Snapshot
		var method int16
		if err := rows.Scan(&snap.ID, &snap.Seller, &snap.AssetID, &snap.RegistryID,
			&snap.TokenRailID, &snap.StartingPrice, &snap.StartAt, &snap.EndAt,
			&snap.HighestBid, &snap.HighestBidder, &method, &snap.Ended,
			&snap.AssetClaimed, &snap.SellerClaimed); err != nil {
			return nil, err
		}
		snap.HighestMethod = auction.Method(method)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LoadEscrow returns every archived escrow entry.
func (s *Store) LoadEscrow(ctx context.Context) ([]auction.EscrowEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select auction_id, bidder, native, token, native_refunded, token_refunded
		from escrow_entries order by auction_id asc, bidder asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []auction.EscrowEntry
	for rows.Next() {
		var e auction.EscrowEntry
		if err := rows.Scan(&e.AuctionID, &e.Bidder, &e.Native, &e.Token,
			&e.NativeRefunded, &e.TokenRefunded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSeq returns the highest archived event sequence, zero for an empty log.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `select coalesce(max(seq), 0) from auction_events`).Scan(&seq)
	return seq, err
}
