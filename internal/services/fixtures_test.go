package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
	"github.com/tidewatch/storefront/internal/repositories/memory"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sequenceIDs(prefix string) func() string {
	var (
		mu  sync.Mutex
		seq int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("%s%03d", prefix, seq)
	}
}

func newTestCatalog(t *testing.T) CatalogService {
	t.Helper()
	repo, err := memory.NewCatalogRepositoryFromYAML(memory.DefaultCatalogSeed())
	if err != nil {
		t.Fatalf("catalog seed: %v", err)
	}
	svc, err := NewCatalogService(CatalogServiceDeps{Catalog: repo})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func newTestRegistry(t *testing.T) ConfigurationRegistry {
	t.Helper()
	registry, err := NewConfigurationRegistry(ConfigurationRegistryDeps{Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewConfigurationRegistry: %v", err)
	}
	return registry
}

type repositoryErrorStub struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return e.msg }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*repositoryErrorStub)(nil)

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID string) (domain.Cart, error)
	saveFunc   func(ctx context.Context, cart domain.Cart) error
	deleteFunc func(ctx context.Context, userID string) error
}

func (s *stubCartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{}, &repositoryErrorStub{msg: "not found", notFound: true}
}

func (s *stubCartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, cart)
	}
	return nil
}

func (s *stubCartRepository) Delete(ctx context.Context, userID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID)
	}
	return nil
}

// faultyOrderRepository delegates to an in-memory store and fails inserts when insertErr is set.
type faultyOrderRepository struct {
	repositories.OrderRepository
	mu        sync.Mutex
	insertErr error
	inserts   int
}

func (r *faultyOrderRepository) Insert(ctx context.Context, order domain.Order, entitlements []domain.UserProduct) error {
	r.mu.Lock()
	r.inserts++
	r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.OrderRepository.Insert(ctx, order, entitlements)
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type stubPaymentAuthorizer struct {
	authorizeFunc func(ctx context.Context, req PaymentAuthorization) (PaymentAuthorizationResult, error)
	requests      []PaymentAuthorization
}

func (s *stubPaymentAuthorizer) Authorize(ctx context.Context, req PaymentAuthorization) (PaymentAuthorizationResult, error) {
	s.requests = append(s.requests, req)
	if s.authorizeFunc != nil {
		return s.authorizeFunc(ctx, req)
	}
	return PaymentAuthorizationResult{Reference: "pay_" + req.OrderID, Approved: true}, nil
}

type countingLocker struct {
	mu    sync.Mutex
	locks map[string]int
	err   error
}

func (l *countingLocker) Lock(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]int)
	}
	l.locks[key]++
	l.mu.Unlock()
	return func() {}, nil
}

func captureLogger(events *[]string) Logger {
	var mu sync.Mutex
	return func(_ context.Context, event string, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, event)
	}
}
