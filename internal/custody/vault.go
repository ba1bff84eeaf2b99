// Package custody provides the in-memory asset vault backing the matching
// engine: per-user wallets plus a market escrow pool, with mint and burn
// for outcome tokens.
package custody

import (
	"context"
	"sync"

	"github.com/stanx/market-engine/internal/engine"
	"github.com/stanx/market-engine/internal/model"
)

// MemoryVault implements engine.Custodian over in-memory maps. It is safe
// for concurrent use, though the engine serializes calls per market anyway.
type MemoryVault struct {
	mu      sync.Mutex
	wallets map[string]map[model.Asset]uint64
	escrow  map[model.Asset]uint64
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		wallets: make(map[string]map[model.Asset]uint64),
		escrow:  make(map[model.Asset]uint64),
	}
}

func (v *MemoryVault) wallet(user string) map[model.Asset]uint64 {
	w, ok := v.wallets[user]
	if !ok {
		w = make(map[model.Asset]uint64)
		v.wallets[user] = w
	}
	return w
}

// Fund deposits external collateral (or tokens) directly into a user's
// wallet. Used at account setup and by tests.
func (v *MemoryVault) Fund(user string, asset model.Asset, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallet(user)[asset] += amount
}

func (v *MemoryVault) TransferIn(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	w := v.wallet(user)
	if w[asset] < amount {
		return engine.ErrNotEnoughBalance
	}
	w[asset] -= amount
	v.escrow[asset] += amount
	return nil
}

func (v *MemoryVault) TransferOut(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.escrow[asset] < amount {
		return engine.ErrNotEnoughBalance
	}
	v.escrow[asset] -= amount
	v.wallet(user)[asset] += amount
	return nil
}

func (v *MemoryVault) Mint(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallet(user)[asset] += amount
	return nil
}

func (v *MemoryVault) Burn(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	w := v.wallet(user)
	if w[asset] < amount {
		return engine.ErrNotEnoughBalance
	}
	w[asset] -= amount
	return nil
}

func (v *MemoryVault) Balance(ctx context.Context, user string, asset model.Asset) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[user][asset], nil
}

// Escrow reports the pooled escrow balance for an asset.
func (v *MemoryVault) Escrow(asset model.Asset) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escrow[asset]
}
