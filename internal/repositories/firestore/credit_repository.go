package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tidewatch/storefront/internal/domain"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	creditAccountCollection     = "creditAccounts"
	creditTransactionCollection = "creditTransactions"
)

// CreditRepository keeps the balance document and the ledger entries in step through
// transactions.
type CreditRepository struct {
	provider     *pfirestore.Provider
	accounts     *pfirestore.Collection[creditAccountDocument]
	transactions *pfirestore.Collection[creditTransactionDocument]
}

var _ repositories.CreditRepository = (*CreditRepository)(nil)

// NewCreditRepository constructs a Firestore-backed credits ledger.
func NewCreditRepository(provider *pfirestore.Provider) (*CreditRepository, error) {
	if provider == nil {
		return nil, errors.New("credit repository requires firestore provider")
	}
	return &CreditRepository{
		provider:     provider,
		accounts:     pfirestore.NewCollection[creditAccountDocument](provider, creditAccountCollection),
		transactions: pfirestore.NewCollection[creditTransactionDocument](provider, creditTransactionCollection),
	}, nil
}

// Account returns a zero balance for users without an account document.
func (r *CreditRepository) Account(ctx context.Context, userID string) (domain.CreditAccount, error) {
	doc, err := r.accounts.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		if isNotFound(err) {
			return domain.CreditAccount{UserID: userID}, nil
		}
		return domain.CreditAccount{}, err
	}
	return domain.CreditAccount{UserID: userID, Balance: doc.Balance, UpdatedAt: doc.UpdatedAt}, nil
}

// Apply appends txn and moves the balance by its amount. A transaction ID that already exists is
// a conflict and a debit below zero fails with repositories.ErrInsufficientBalance.
func (r *CreditRepository) Apply(ctx context.Context, txn domain.CreditTransaction) (domain.CreditAccount, error) {
	accountRef, err := r.accounts.Doc(ctx, strings.TrimSpace(txn.UserID))
	if err != nil {
		return domain.CreditAccount{}, err
	}
	txnRef, err := r.transactions.Doc(ctx, strings.TrimSpace(txn.ID))
	if err != nil {
		return domain.CreditAccount{}, err
	}

	var account domain.CreditAccount
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current := domain.CreditAccount{UserID: txn.UserID}
		snap, err := tx.Get(accountRef)
		switch {
		case err == nil:
			doc, err := pfirestore.Decode[creditAccountDocument](snap)
			if err != nil {
				return err
			}
			current.Balance = doc.Balance
			current.UpdatedAt = doc.UpdatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}

		if existing, err := tx.Get(txnRef); err == nil && existing.Exists() {
			return pfirestore.Conflict("credits.apply", fmt.Sprintf("transaction %q already applied", txn.ID))
		} else if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		next := current.Balance + txn.Amount
		if txn.Amount < 0 && next < 0 {
			account = current
			return fmt.Errorf("%w: balance %d, debit %d", repositories.ErrInsufficientBalance, current.Balance, -txn.Amount)
		}

		account = domain.CreditAccount{UserID: txn.UserID, Balance: next, UpdatedAt: txn.Timestamp.UTC()}
		if err := tx.Set(accountRef, creditAccountDocument{
			UserID:    txn.UserID,
			Balance:   next,
			UpdatedAt: account.UpdatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(txnRef, creditTransactionDocument{
			ID:          txn.ID,
			UserID:      txn.UserID,
			Amount:      txn.Amount,
			Description: txn.Description,
			Timestamp:   txn.Timestamp.UTC(),
			OrderID:     txn.OrderID,
			ProductID:   txn.ProductID,
		})
	}, pfirestore.WithTxLabel("credits.apply"))
	if err != nil {
		return account, err
	}
	return account, nil
}

// ListTransactions returns the ledger newest first.
func (r *CreditRepository) ListTransactions(ctx context.Context, userID string) ([]domain.CreditTransaction, error) {
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("timestamp", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CreditTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.decode())
	}
	return out, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
