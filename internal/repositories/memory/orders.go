package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/platform/pagination"
	"github.com/tidewatch/storefront/internal/repositories"
)

// orderStore holds orders and entitlements behind one lock so both are written together.
type orderStore struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	userProducts map[string]domain.UserProduct
}

func newOrderStore() *orderStore {
	return &orderStore{
		orders:       make(map[string]domain.Order),
		userProducts: make(map[string]domain.UserProduct),
	}
}

// OrderRepository persists orders and their entitlements.
type OrderRepository struct {
	store *orderStore
}

// UserProductRepository reads entitlements written by OrderRepository.Insert.
type UserProductRepository struct {
	store *orderStore
}

var (
	_ repositories.OrderRepository       = (*OrderRepository)(nil)
	_ repositories.UserProductRepository = (*UserProductRepository)(nil)
)

// NewOrderRepositories constructs the paired order and entitlement stores.
func NewOrderRepositories() (*OrderRepository, *UserProductRepository) {
	store := newOrderStore()
	return &OrderRepository{store: store}, &UserProductRepository{store: store}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order, entitlements []domain.UserProduct) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return conflict("orders.insert", "order %q already exists", order.ID)
	}
	for _, entitlement := range entitlements {
		if _, exists := s.userProducts[entitlement.ID]; exists {
			return conflict("orders.insert", "user product %q already exists", entitlement.ID)
		}
	}
	s.orders[order.ID] = order
	for _, entitlement := range entitlements {
		s.userProducts[entitlement.ID] = entitlement
	}
	return nil
}

func (r *OrderRepository) Get(_ context.Context, orderID string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %q not found", orderID)
	}
	return order, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	params := pagination.Params{PageSize: pager.PageSize}
	if pager.PageToken != "" {
		cursor, err := pagination.DecodeToken(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		params.Cursor = cursor
	}

	s := r.store
	s.mu.RLock()
	var orders []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].PurchaseDate.Equal(orders[j].PurchaseDate) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].PurchaseDate.After(orders[j].PurchaseDate)
	})
	start, end, next := pagination.Window(len(orders), params)
	return domain.CursorPage[domain.Order]{Items: orders[start:end], NextPageToken: next}, nil
}

func (r *UserProductRepository) ListByUser(_ context.Context, userID string) ([]domain.UserProduct, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UserProduct
	for _, product := range s.userProducts {
		if product.UserID == userID {
			out = append(out, product)
		}
	}
	sortUserProducts(out)
	return out, nil
}

func (r *UserProductRepository) Get(_ context.Context, userProductID string) (domain.UserProduct, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.userProducts[userProductID]
	if !ok {
		return domain.UserProduct{}, notFound("user_products.get", "user product %q not found", userProductID)
	}
	return product, nil
}

func (r *UserProductRepository) UpdateStatus(_ context.Context, userProductID string, status domain.UserProductStatus) (domain.UserProduct, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.userProducts[userProductID]
	if !ok {
		return domain.UserProduct{}, notFound("user_products.update_status", "user product %q not found", userProductID)
	}
	product.Status = status
	s.userProducts[userProductID] = product
	return product, nil
}

func (r *UserProductRepository) ListExpiringBetween(_ context.Context, from, to time.Time) ([]domain.UserProduct, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UserProduct
	for _, product := range s.userProducts {
		if product.ExpiryDate == nil {
			continue
		}
		if product.ExpiryDate.Before(from) || product.ExpiryDate.After(to) {
			continue
		}
		out = append(out, product)
	}
	sortUserProducts(out)
	return out, nil
}

func sortUserProducts(products []domain.UserProduct) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].PurchaseDate.Equal(products[j].PurchaseDate) {
			return products[i].ID < products[j].ID
		}
		return products[i].PurchaseDate.After(products[j].PurchaseDate)
	})
}
