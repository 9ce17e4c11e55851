// Package adapter provides the account balance stores that transfer work
// reads and writes while the coordinator holds the accounts' locks. The stores
// do no locking of their own beyond keeping single calls consistent.
package adapter

import (
	"context"
	"sort"
	"sync"
)

// Store holds integer balances keyed by account.
type Store interface {
	// Balance returns the balance of account. Unknown accounts hold zero.
	Balance(ctx context.Context, account string) (int64, error)
	// Apply stores the given absolute balances in one step: either all of
	// them are written or none is.
	Apply(ctx context.Context, balances map[string]int64) error
	// Accounts lists the accounts that have a stored balance, sorted.
	Accounts(ctx context.Context) ([]string, error)
}

// Total sums the balances of every account in s.
func Total(ctx context.Context, s Store) (int64, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, a := range accounts {
		b, err := s.Balance(ctx, a)
		if err != nil {
			return 0, err
		}
		sum += b
	}
	return sum, nil
}

// InMemoryStore is a Store backed by a map.
type InMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{balances: make(map[string]int64)}
}

// Balance implements Store.Balance.
func (s *InMemoryStore) Balance(ctx context.Context, account string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

// Apply implements Store.Apply.
func (s *InMemoryStore) Apply(ctx context.Context, balances map[string]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range balances {
		s.balances[k] = v
	}
	return nil
}

// Accounts implements Store.Accounts.
func (s *InMemoryStore) Accounts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	accounts := make([]string, 0, len(s.balances))
	for k := range s.balances {
		accounts = append(accounts, k)
	}
	s.mu.RUnlock()
	sort.Strings(accounts)
	return accounts, nil
}
