package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

func TestDefaultCatalogSeedCoversEveryProductType(t *testing.T) {
	catalog, err := NewCatalogRepositoryFromYAML(DefaultCatalogSeed())
	require.NoError(t, err)

	products, err := catalog.List(context.Background(), domain.CatalogFilter{})
	require.NoError(t, err)

	seen := make(map[domain.ProductType]bool)
	for _, product := range products {
		seen[product.Type] = true
	}
	for _, productType := range domain.ProductTypes() {
		assert.True(t, seen[productType], "missing product for %s", productType)
	}

	vts, err := catalog.Get(context.Background(), "prod-vts-standard")
	require.NoError(t, err)
	assert.Equal(t, "199.99", vts.Price.StringFixed(2))
	assert.Equal(t, 20, vts.CreditCost)
}

func TestParseCatalogSeedRejectsInvalidEntries(t *testing.T) {
	seed := `
products:
  - id: a
    type: NOPE
    price: "1"
  - id: b
    type: VTS
    price: "-1"
  - id: c
    type: VTS
    price: "1"
    alertTypesAvailable: [SHIP]
`
	_, err := ParseCatalogSeed(strings.NewReader(seed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
	assert.Contains(t, err.Error(), "must not be negative")
	assert.Contains(t, err.Error(), "only applies to MARITIME_ALERT")
}

func TestCatalogListFiltersByTypeAndSearch(t *testing.T) {
	catalog, err := NewCatalogRepositoryFromYAML(DefaultCatalogSeed())
	require.NoError(t, err)
	ctx := context.Background()

	reports, err := catalog.List(ctx, domain.CatalogFilter{Type: domain.ProductTypeReportCompliance})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "prod-report-compliance", reports[0].ID)

	fleet, err := catalog.List(ctx, domain.CatalogFilter{Search: "FLEET"})
	require.NoError(t, err)
	require.NotEmpty(t, fleet)
	assert.Equal(t, domain.ProductTypeFTS, fleet[0].Type)

	_, err = catalog.Get(ctx, "missing")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
}

func TestCreditRepositoryApplyIsAtomic(t *testing.T) {
	repo := NewCreditRepository()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Apply(ctx, domain.CreditTransaction{ID: "t1", UserID: "u1", Amount: 100, Timestamp: now})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Apply(ctx, domain.CreditTransaction{
				ID:        "debit-" + string(rune('a'+i)),
				UserID:    "u1",
				Amount:    -30,
				Timestamp: now.Add(time.Duration(i) * time.Second),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, repositories.ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	account, err := repo.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, account.Balance)

	txns, err := repo.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	sum := 0
	for _, txn := range txns {
		sum += txn.Amount
	}
	assert.Equal(t, account.Balance, sum)
}

func TestOrderRepositoryInsertAndPaginate(t *testing.T) {
	orders, userProducts := NewOrderRepositories()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id := "ord_" + string(rune('a'+i))
		err := orders.Insert(ctx, domain.Order{ID: id, UserID: "u1", PurchaseDate: base.Add(time.Duration(i) * time.Hour)},
			[]domain.UserProduct{{ID: "up_" + string(rune('a'+i)), UserID: "u1", OrderID: id, PurchaseDate: base}})
		require.NoError(t, err)
	}

	err := orders.Insert(ctx, domain.Order{ID: "ord_z", UserID: "u1"}, []domain.UserProduct{{ID: "up_a"}})
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsConflict())
	_, err = orders.Get(ctx, "ord_z")
	require.Error(t, err, "order must not exist when entitlement insert conflicts")

	page, err := orders.ListByUser(ctx, "u1", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "ord_c", page.Items[0].ID)
	require.NotEmpty(t, page.NextPageToken)

	page, err = orders.ListByUser(ctx, "u1", domain.Pagination{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextPageToken)

	products, err := userProducts.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestAlertRepositoryMarkAllRead(t *testing.T) {
	repo := NewAlertRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Insert(ctx, domain.Alert{ID: "a1", UserID: "u1", CreatedAt: now}))
	require.NoError(t, repo.Insert(ctx, domain.Alert{ID: "a2", UserID: "u1", CreatedAt: now, SourceKey: "k"}))
	require.NoError(t, repo.Insert(ctx, domain.Alert{ID: "a3", UserID: "u2", CreatedAt: now}))

	count, err := repo.MarkAllRead(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	unread, err := repo.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	exists, err := repo.ExistsBySourceKey(ctx, "u1", "k")
	require.NoError(t, err)
	assert.True(t, exists)
}
