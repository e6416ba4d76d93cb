package ledger

import (
	"context"
	"sync"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string]CreditResult
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     map[string]int64{PayoutClearingAccountCode: 0},
		transactions: make(map[string]CreditResult),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Credit(_ context.Context, code, clientTxID string, amount int64) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := KindPayout + ":" + clientTxID
	if res, exists := l.transactions[key]; exists {
		res.Balance = l.balances[code]
		return res, ErrDuplicateTransaction
	}

	balance, ok := l.balances[code]
	if !ok {
		return CreditResult{}, ErrAccountNotFound
	}

	balance += amount
	l.balances[code] = balance
	l.balances[PayoutClearingAccountCode] -= amount

	res := CreditResult{TransactionID: key, Balance: balance}
	l.transactions[key] = res
	return res, nil
}
