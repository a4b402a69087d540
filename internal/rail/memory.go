// Package rail provides in-memory payment rails used to wire and test the
// auction engine. A production deployment substitutes rails backed by real
// payment infrastructure.
package rail

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientFunds     = errors.New("rail: insufficient funds")
	ErrInsufficientAllowance = errors.New("rail: insufficient allowance")
	ErrInsufficientEscrow    = errors.New("rail: insufficient escrow")
)

// Memory is an in-process rail: party balances, pre-authorized allowances,
// and one engine-held escrow pot. Pull and Push are all-or-nothing.
type Memory struct {
	id        string
	allowance bool // token-style rail: pulls consume pre-authorized allowance

	mu         sync.Mutex
	balances   map[string]int64
	allowances map[string]int64
	held       int64
}

// NewNative creates a rail for the native value unit. Native bids attach
// value to the call, so the rail reports no allowances.
func NewNative(id string) *Memory {
	return &Memory{id: id, balances: make(map[string]int64), allowances: make(map[string]int64)}
}

// NewToken creates a fungible-token rail whose pulls consume the payer's
// pre-authorized allowance.
func NewToken(id string) *Memory {
	return &Memory{id: id, allowance: true, balances: make(map[string]int64), allowances: make(map[string]int64)}
}

func (m *Memory) ID() string { return m.id }

// Mint credits a party's balance. Fixture/demo helper.
func (m *Memory) Mint(party string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[party] += amount
}

// Approve sets the payer's standing allowance toward the engine. Only
// meaningful on token rails.
func (m *Memory) Approve(payer string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[payer] = amount
}

// Allowance reports the payer's remaining pre-authorization. Always zero on
// the native rail.
func (m *Memory) Allowance(ctx context.Context, payer string) (int64, error) {
	if !m.allowance {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[payer], nil
}

// Pull moves funds from the payer into engine escrow.
func (m *Memory) Pull(ctx context.Context, payer string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("rail %s: pull amount %d must be positive", m.id, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowance {
		if m.allowances[payer] < amount {
			return fmt.Errorf("%w: rail %s payer %s", ErrInsufficientAllowance, m.id, payer)
		}
	}
	if m.balances[payer] < amount {
		return fmt.Errorf("%w: rail %s payer %s", ErrInsufficientFunds, m.id, payer)
	}
	if m.allowance {
		m.allowances[payer] -= amount
	}
	m.balances[payer] -= amount
	m.held += amount
	return nil
}

// Push moves escrowed funds out to the payee.
func (m *Memory) Push(ctx context.Context, payee string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("rail %s: push amount %d must be positive", m.id, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held < amount {
		return fmt.Errorf("%w: rail %s", ErrInsufficientEscrow, m.id)
	}
	m.held -= amount
	m.balances[payee] += amount
	return nil
}

// Balance returns a party's free balance.
func (m *Memory) Balance(party string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[party]
}

// Held returns the engine-held escrow total on this rail.
func (m *Memory) Held() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}
