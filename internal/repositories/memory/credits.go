package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

// CreditRepository keeps balances and the ledger under one lock so Apply is atomic.
type CreditRepository struct {
	mu           sync.Mutex
	accounts     map[string]domain.CreditAccount
	transactions map[string][]domain.CreditTransaction
}

var _ repositories.CreditRepository = (*CreditRepository)(nil)

// NewCreditRepository constructs an empty ledger.
func NewCreditRepository() *CreditRepository {
	return &CreditRepository{
		accounts:     make(map[string]domain.CreditAccount),
		transactions: make(map[string][]domain.CreditTransaction),
	}
}

func (r *CreditRepository) Account(_ context.Context, userID string) (domain.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		return domain.CreditAccount{UserID: userID}, nil
	}
	return account, nil
}

func (r *CreditRepository) Apply(_ context.Context, txn domain.CreditTransaction) (domain.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[txn.UserID]
	if !ok {
		account = domain.CreditAccount{UserID: txn.UserID}
	}
	next := account.Balance + txn.Amount
	if txn.Amount < 0 && next < 0 {
		return account, fmt.Errorf("%w: balance %d, debit %d", repositories.ErrInsufficientBalance, account.Balance, -txn.Amount)
	}
	for _, existing := range r.transactions[txn.UserID] {
		if existing.ID == txn.ID {
			return account, conflict("credits.apply", "transaction %q already applied", txn.ID)
		}
	}

	account.Balance = next
	account.UpdatedAt = txn.Timestamp
	r.accounts[txn.UserID] = account
	r.transactions[txn.UserID] = append(r.transactions[txn.UserID], txn)
	return account, nil
}

func (r *CreditRepository) ListTransactions(_ context.Context, userID string) ([]domain.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.CreditTransaction(nil), r.transactions[userID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
