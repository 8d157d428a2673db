package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/platform/config"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

// newEmulatorProvider connects to a running Firestore emulator and isolates the test in its own
// project so collections never collide between runs.
func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{
		ProjectID:    fmt.Sprintf("storefront-test-%d", time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestEmulatorCreditLedger(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewCreditRepository(provider)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	account, err := repo.Apply(ctx, domain.CreditTransaction{ID: "ctx_1", UserID: "user-1", Amount: 100, Timestamp: now})
	require.NoError(t, err)
	assert.Equal(t, 100, account.Balance)

	_, err = repo.Apply(ctx, domain.CreditTransaction{ID: "ctx_2", UserID: "user-1", Amount: -150, Timestamp: now})
	assert.ErrorIs(t, err, repositories.ErrInsufficientBalance)

	_, err = repo.Apply(ctx, domain.CreditTransaction{ID: "ctx_1", UserID: "user-1", Amount: 5, Timestamp: now})
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())

	account, err = repo.Account(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, account.Balance)

	txns, err := repo.ListTransactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestEmulatorOrderInsertIsAtomic(t *testing.T) {
	provider := newEmulatorProvider(t)
	orders, userProducts, err := NewOrderRepositories(provider)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	expiry := now.AddDate(0, 0, 30)

	order := domain.Order{ID: "ord_1", UserID: "user-1", TotalAmount: decimal.NewFromInt(10), Status: domain.OrderStatusCompleted, PurchaseDate: now}
	entitlement := domain.UserProduct{ID: "up_1", OrderID: "ord_1", UserID: "user-1", Status: domain.UserProductStatusActive, PurchaseDate: now, ExpiryDate: &expiry}
	require.NoError(t, orders.Insert(ctx, order, []domain.UserProduct{entitlement}))

	// A second order reusing the entitlement ID must leave no trace.
	clash := order
	clash.ID = "ord_2"
	err = orders.Insert(ctx, clash, []domain.UserProduct{entitlement})
	require.Error(t, err)
	_, err = orders.Get(ctx, "ord_2")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())

	expiring, err := userProducts.ListExpiringBetween(ctx, now, now.AddDate(0, 0, 31))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "up_1", expiring[0].ID)

	updated, err := userProducts.UpdateStatus(ctx, "up_1", domain.UserProductStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.UserProductStatusCancelled, updated.Status)
}

func TestEmulatorAlertsReadState(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewAlertRepository(provider)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Insert(ctx, domain.Alert{
			ID:        fmt.Sprintf("alr_%d", i),
			UserID:    "user-1",
			Title:     "Entitlement expiring",
			Severity:  domain.AlertSeverityWarning,
			SourceKey: fmt.Sprintf("expiry:up_%d", i),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	exists, err := repo.ExistsBySourceKey(ctx, "user-1", "expiry:up_2")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.MarkRead(ctx, "alr_1", now))
	changed, err := repo.MarkAllRead(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	unread, err := repo.ListByUser(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
