package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
)

// ErrInsufficientBalance is returned by CreditRepository.Apply when a debit would take the balance
// below zero. The balance and ledger are left unchanged.
var ErrInsufficientBalance = errors.New("credit repository: insufficient balance")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Orders() OrderRepository
	UserProducts() UserProductRepository
	Credits() CreditRepository
	RFIs() RFIRepository
	Alerts() AlertRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository serves the read-mostly product catalog.
type CatalogRepository interface {
	List(ctx context.Context, filter domain.CatalogFilter) ([]domain.Product, error)
	Get(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository persists one active cart per user. Get returns a not-found error when the user
// has no cart yet.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// OrderRepository persists orders together with their entitlements. Insert writes the order and
// every entitlement in a single atomic step: either all records exist afterwards or none do.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order, entitlements []domain.UserProduct) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// UserProductRepository reads and updates persisted entitlements.
type UserProductRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.UserProduct, error)
	Get(ctx context.Context, userProductID string) (domain.UserProduct, error)
	UpdateStatus(ctx context.Context, userProductID string, status domain.UserProductStatus) (domain.UserProduct, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.UserProduct, error)
}

// CreditRepository owns the balance and the ledger. Apply updates the balance and appends the
// transaction atomically and refuses debits that would make the balance negative.
type CreditRepository interface {
	Account(ctx context.Context, userID string) (domain.CreditAccount, error)
	Apply(ctx context.Context, txn domain.CreditTransaction) (domain.CreditAccount, error)
	ListTransactions(ctx context.Context, userID string) ([]domain.CreditTransaction, error)
}

// RFIRepository persists requests for intelligence.
type RFIRepository interface {
	Insert(ctx context.Context, rfi domain.RFI) error
	Update(ctx context.Context, rfi domain.RFI) error
	Get(ctx context.Context, rfiID string) (domain.RFI, error)
	ListByUser(ctx context.Context, userID string) ([]domain.RFI, error)
}

// AlertRepository persists user notifications.
type AlertRepository interface {
	Insert(ctx context.Context, alert domain.Alert) error
	Get(ctx context.Context, alertID string) (domain.Alert, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]domain.Alert, error)
	MarkRead(ctx context.Context, alertID string, readAt time.Time) error
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int, error)
	ExistsBySourceKey(ctx context.Context, userID, sourceKey string) (bool, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
