package auction

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("auction: not found")
	ErrUnauthorized        = errors.New("auction: unauthorized")
	ErrInvalidAsset        = errors.New("auction: invalid asset registry")
	ErrInvalidDuration     = errors.New("auction: duration below minimum")
	ErrInvalidPaymentToken = errors.New("auction: invalid payment token")
	ErrAuctionEnded        = errors.New("auction: ended")
	ErrAuctionNotEnded     = errors.New("auction: not ended")
	ErrAlreadyEnded        = errors.New("auction: already ended")
	ErrEmptyBid            = errors.New("auction: empty bid")
	ErrAmbiguousBid        = errors.New("auction: both native and token amounts supplied")
	ErrBelowStartingPrice  = errors.New("auction: bid below starting price")
	ErrBelowHighestBid     = errors.New("auction: bid not above highest bid")
)

// BidTooLowError reports a rejected bid together with the reference-currency
// threshold it violated. It unwraps to ErrBelowStartingPrice or
// ErrBelowHighestBid so callers can classify with errors.Is.
type BidTooLowError struct {
	Reference int64 // the rejected bid, converted
	Threshold int64 // starting price, or the current highest converted
	Starting  bool  // true when no prior bid existed
}

func (e *BidTooLowError) Error() string {
	if e.Starting {
		return fmt.Sprintf("auction: bid %d below starting price %d (reference units)", e.Reference, e.Threshold)
	}
	return fmt.Sprintf("auction: bid %d not above highest bid %d (reference units)", e.Reference, e.Threshold)
}

func (e *BidTooLowError) Unwrap() error {
	if e.Starting {
		return ErrBelowStartingPrice
	}
	return ErrBelowHighestBid
}
