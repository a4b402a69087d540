// Package oracle provides the reference-currency conversion used to compare
// bids placed through different payment rails.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrUnknownRail indicates no rate is configured for the requested rail.
var ErrUnknownRail = errors.New("oracle: unknown rail")

// Rate converts raw rail units to reference units as amount * Num / Den.
// Splitting the rate keeps integer precision for rails with large unit
// scales (an 18-decimal native unit against an 8-decimal reference).
type Rate struct {
	Num int64 `json:"num" toml:"num"`
	Den int64 `json:"den" toml:"den"`
}

func (r Rate) valid() bool { return r.Num > 0 && r.Den > 0 }

// FixedRates implements auction.Oracle from a static rate table keyed by
// rail id. Rates can be replaced at runtime; each Quote reads the table at
// call time.
type FixedRates struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewFixedRates builds an oracle from the given table.
func NewFixedRates(rates map[string]Rate) (*FixedRates, error) {
	table := make(map[string]Rate, len(rates))
	for id, rate := range rates {
		if id == "" || !rate.valid() {
			return nil, fmt.Errorf("oracle: invalid rate for rail %q", id)
		}
		table[id] = rate
	}
	return &FixedRates{rates: table}, nil
}

// SetRate installs or replaces the rate for one rail.
func (o *FixedRates) SetRate(railID string, rate Rate) error {
	if railID == "" || !rate.valid() {
		return fmt.Errorf("oracle: invalid rate for rail %q", railID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[railID] = rate
	return nil
}

// Quote converts a raw rail amount into reference currency units. The
// multiply runs through math/big so large raw amounts cannot overflow
// before the divide.
func (o *FixedRates) Quote(ctx context.Context, railID string, amount int64) (int64, error) {
	o.mu.RLock()
	rate, ok := o.rates[railID]
	o.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRail, railID)
	}
	if amount < 0 {
		return 0, fmt.Errorf("oracle: negative amount %d", amount)
	}

	product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(rate.Num))
	product.Quo(product, big.NewInt(rate.Den))
	if !product.IsInt64() {
		return 0, fmt.Errorf("oracle: quote overflows for rail %s amount %d", railID, amount)
	}
	return product.Int64(), nil
}
