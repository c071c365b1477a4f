package ecash

import (
	"context"
	"errors"
	"sync"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Wallet is a token-based balance held against one mint. Proof and keyset
// management live inside the wallet implementation.
type Wallet interface {
	MintURL() string
	Unit() string
	Balance() int64
	SendAmount(ctx context.Context, amount int64) (string, error)
}

// Registry owns the mint → wallet mapping for the session. Lookups prefer
// an exact mint URL match and fall back to the first wallet with a
// matching unit.
type Registry struct {
	mu      sync.RWMutex
	wallets []Wallet
	byMint  map[string]Wallet
}

// NewRegistry creates an empty wallet registry.
func NewRegistry() *Registry {
	return &Registry{
		byMint: make(map[string]Wallet),
	}
}

// Register adds a wallet. A second wallet for the same mint replaces the
// first in the mint index but keeps its place in unit-fallback order.
func (r *Registry) Register(w Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wallets = append(r.wallets, w)
	r.byMint[w.MintURL()] = w
}

// Resolve finds the wallet for a ticket request.
func (r *Registry) Resolve(mintURL, unit string) (Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if w, ok := r.byMint[mintURL]; ok {
		return w, true
	}
	for _, w := range r.wallets {
		if w.Unit() == unit {
			return w, true
		}
	}
	return nil, false
}

// Len returns the number of registered wallets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}
