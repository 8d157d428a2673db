package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tidewatch/storefront/internal/repositories/memory"
)

func newTestCreditService(t *testing.T, deps CreditServiceDeps) CreditService {
	t.Helper()
	if deps.Credits == nil {
		deps.Credits = memory.NewCreditRepository()
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock
	}
	svc, err := NewCreditService(deps)
	if err != nil {
		t.Fatalf("NewCreditService: %v", err)
	}
	return svc
}

func TestNewCreditServiceValidatesDeps(t *testing.T) {
	if _, err := NewCreditService(CreditServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewCreditService(CreditServiceDeps{Credits: memory.NewCreditRepository(), SignupGrant: -1}); err == nil {
		t.Fatalf("expected error for negative grant")
	}
}

func TestCreditServicePurchaseAndSpend(t *testing.T) {
	locker := &countingLocker{}
	svc := newTestCreditService(t, CreditServiceDeps{Locker: locker, IDGenerator: sequenceIDs("")})
	ctx := context.Background()

	result, err := svc.PurchaseCredits(ctx, PurchaseCreditsCommand{UserID: "user-1", Amount: 100})
	if err != nil {
		t.Fatalf("PurchaseCredits: %v", err)
	}
	if result.NewBalance != 100 || result.Transaction.Amount != 100 || result.Transaction.ID != "ctx_001" {
		t.Fatalf("unexpected purchase result %+v", result)
	}
	if result.Transaction.Description != "Credit purchase" {
		t.Fatalf("expected default description, got %q", result.Transaction.Description)
	}

	txn, err := svc.Spend(ctx, SpendCreditsCommand{UserID: "user-1", Amount: 60, OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if txn.Amount != -60 || txn.OrderID != "ord_1" {
		t.Fatalf("unexpected debit %+v", txn)
	}
	if locker.locks["credits:user-1"] != 1 {
		t.Fatalf("expected debit to take the per-user lock, got %+v", locker.locks)
	}

	_, err = svc.Spend(ctx, SpendCreditsCommand{UserID: "user-1", Amount: 41})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if account.Balance != 40 {
		t.Fatalf("expected balance 40, got %d", account.Balance)
	}

	txns, err := svc.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("failed debit must not be recorded, got %d transactions", len(txns))
	}
}

func TestCreditServiceRejectsInvalidAmounts(t *testing.T) {
	svc := newTestCreditService(t, CreditServiceDeps{})
	ctx := context.Background()

	if _, err := svc.PurchaseCredits(ctx, PurchaseCreditsCommand{UserID: "user-1", Amount: 0}); !errors.Is(err, ErrCreditInvalidInput) {
		t.Fatalf("expected invalid input for zero purchase, got %v", err)
	}
	if _, err := svc.Spend(ctx, SpendCreditsCommand{UserID: "user-1", Amount: -5}); !errors.Is(err, ErrCreditInvalidInput) {
		t.Fatalf("expected invalid input for negative spend, got %v", err)
	}
	if _, err := svc.Refund(ctx, RefundCreditsCommand{UserID: "", Amount: 5}); !errors.Is(err, ErrCreditInvalidInput) {
		t.Fatalf("expected invalid input for blank user, got %v", err)
	}
}

func TestCreditServiceLockFailure(t *testing.T) {
	svc := newTestCreditService(t, CreditServiceDeps{Locker: &countingLocker{err: errors.New("redis down")}})
	_, err := svc.Spend(context.Background(), SpendCreditsCommand{UserID: "user-1", Amount: 1})
	if !errors.Is(err, ErrCreditUnavailable) {
		t.Fatalf("expected unavailable when lock cannot be taken, got %v", err)
	}
}

func TestCreditServiceSignupGrantAppliedOnce(t *testing.T) {
	svc := newTestCreditService(t, CreditServiceDeps{SignupGrant: 25})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GetBalance(ctx, "user-1")
		}()
	}
	wg.Wait()

	account, err := svc.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if account.Balance != 25 {
		t.Fatalf("expected single grant of 25, got %d", account.Balance)
	}
	txns, _ := svc.ListTransactions(ctx, "user-1")
	if len(txns) != 1 || txns[0].Description != "Welcome credits" {
		t.Fatalf("expected one welcome transaction, got %+v", txns)
	}
}

func TestCreditLedgerAgreesWithBalance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("balance equals the ledger sum and never goes negative", prop.ForAll(
		func(amounts []int) bool {
			svc, err := NewCreditService(CreditServiceDeps{Credits: memory.NewCreditRepository(), Clock: fixedClock})
			if err != nil {
				return false
			}
			ctx := context.Background()
			for _, amount := range amounts {
				switch {
				case amount > 0:
					if _, err := svc.PurchaseCredits(ctx, PurchaseCreditsCommand{UserID: "user-1", Amount: amount}); err != nil {
						return false
					}
				case amount < 0:
					if _, err := svc.Spend(ctx, SpendCreditsCommand{UserID: "user-1", Amount: -amount}); err != nil && !errors.Is(err, ErrInsufficientCredits) {
						return false
					}
				}
			}
			account, err := svc.GetBalance(ctx, "user-1")
			if err != nil || account.Balance < 0 {
				return false
			}
			txns, err := svc.ListTransactions(ctx, "user-1")
			if err != nil {
				return false
			}
			sum := 0
			for _, txn := range txns {
				sum += txn.Amount
			}
			return sum == account.Balance
		},
		gen.SliceOf(gen.IntRange(-200, 200)),
	))

	properties.TestingRun(t)
}
