package ecash

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
)

// MemoryWallet is an in-process Wallet backed by a plain counter. It stands
// in for a full mint-backed wallet during development and in tests.
type MemoryWallet struct {
	mintURL string
	unit    string

	mu      sync.Mutex
	balance int64
}

// NewMemoryWallet creates a wallet with an initial balance.
func NewMemoryWallet(mintURL, unit string, balance int64) *MemoryWallet {
	return &MemoryWallet{
		mintURL: mintURL,
		unit:    unit,
		balance: balance,
	}
}

func (w *MemoryWallet) MintURL() string { return w.mintURL }
func (w *MemoryWallet) Unit() string    { return w.unit }

// Balance returns the spendable amount.
func (w *MemoryWallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// SendAmount debits the wallet and returns an opaque transfer token.
func (w *MemoryWallet) SendAmount(ctx context.Context, amount int64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if amount > w.balance {
		return "", ErrInsufficientFunds
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	w.balance -= amount
	return "walletgateA" + base64.RawURLEncoding.EncodeToString(buf), nil
}
