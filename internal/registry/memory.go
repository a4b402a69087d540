// Package registry provides an in-memory asset registry for wiring and
// testing the auction engine. The engine never holds assets itself; it only
// exercises a transfer authorization granted (or not) by the owner.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownAsset  = errors.New("registry: unknown asset")
	ErrNotOwner      = errors.New("registry: transferor does not own asset")
	ErrNotAuthorized = errors.New("registry: engine not authorized for asset")
)

// Memory tracks asset ownership and per-asset transfer approvals.
type Memory struct {
	id string

	mu       sync.Mutex
	owners   map[uint64]string
	approved map[uint64]bool
}

// NewMemory creates an empty registry with the given id.
func NewMemory(id string) *Memory {
	return &Memory{id: id, owners: make(map[uint64]string), approved: make(map[uint64]bool)}
}

func (m *Memory) ID() string { return m.id }

// Mint assigns ownership of a new asset. Fixture/demo helper.
func (m *Memory) Mint(assetID uint64, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[assetID] = owner
}

// Approve grants or revokes the engine's authorization to transfer the
// asset. Owners can revoke at any time, including after a winning bid.
func (m *Memory) Approve(assetID uint64, granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved[assetID] = granted
}

// OwnerOf reports the asset's current owner.
func (m *Memory) OwnerOf(assetID uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[assetID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownAsset, assetID)
	}
	return owner, nil
}

// Transfer moves the asset from one owner to another on the engine's
// behalf. Fails when the authorization was never granted or was revoked.
func (m *Memory) Transfer(ctx context.Context, assetID uint64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[assetID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, assetID)
	}
	if owner != from {
		return fmt.Errorf("%w: %d owned by %s", ErrNotOwner, assetID, owner)
	}
	if !m.approved[assetID] {
		return fmt.Errorf("%w: %d", ErrNotAuthorized, assetID)
	}
	m.owners[assetID] = to
	m.approved[assetID] = false
	return nil
}
