package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/tidewatch/storefront/internal/domain"
)

type stubCatalogRepository struct {
	listFunc   func(ctx context.Context, filter CatalogFilter) ([]Product, error)
	getFunc    func(ctx context.Context, productID string) (Product, error)
	listFilter CatalogFilter
	getID      string
}

func (s *stubCatalogRepository) List(ctx context.Context, filter CatalogFilter) ([]Product, error) {
	s.listFilter = filter
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return nil, nil
}

func (s *stubCatalogRepository) Get(ctx context.Context, productID string) (Product, error) {
	s.getID = productID
	if s.getFunc != nil {
		return s.getFunc(ctx, productID)
	}
	return Product{}, &repositoryErrorStub{msg: "not found", notFound: true}
}

func TestNewCatalogService(t *testing.T) {
	if _, err := NewCatalogService(CatalogServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestCatalogServiceListProducts(t *testing.T) {
	svc := newTestCatalog(t)
	ctx := context.Background()

	all, err := svc.ListProducts(ctx, CatalogFilter{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(all) != 7 {
		t.Fatalf("expected seven seeded products, got %d", len(all))
	}
	if all[0].Type != domain.ProductTypeVTS {
		t.Fatalf("expected catalog ordered by product type, got %s first", all[0].Type)
	}

	alerts, err := svc.ListProducts(ctx, CatalogFilter{Type: domain.ProductTypeMaritimeAlert})
	if err != nil {
		t.Fatalf("ListProducts(type): %v", err)
	}
	if len(alerts) != 1 || len(alerts[0].AlertTypesAvailable) != 3 {
		t.Fatalf("unexpected maritime alert listing %+v", alerts)
	}

	matches, err := svc.ListProducts(ctx, CatalogFilter{Search: "  SANCTIONS "})
	if err != nil {
		t.Fatalf("ListProducts(search): %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "prod-report-compliance" {
		t.Fatalf("expected case-insensitive search to find the compliance report, got %+v", matches)
	}
}

func TestCatalogServiceListValidation(t *testing.T) {
	stub := &stubCatalogRepository{}
	svc, err := NewCatalogService(CatalogServiceDeps{Catalog: stub})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.ListProducts(ctx, CatalogFilter{Type: "SUBMARINE"}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for unknown type, got %v", err)
	}
	if _, err := svc.ListProducts(ctx, CatalogFilter{Search: strings.Repeat("a", 201)}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for long search, got %v", err)
	}
	if _, err := svc.ListProducts(ctx, CatalogFilter{Search: "  tanker  "}); err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if stub.listFilter.Search != "tanker" {
		t.Fatalf("expected trimmed search forwarded, got %q", stub.listFilter.Search)
	}
}

func TestCatalogServiceGetProduct(t *testing.T) {
	svc := newTestCatalog(t)
	ctx := context.Background()

	product, err := svc.GetProduct(ctx, " prod-vts-standard ")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if product.Name != "Vessel Tracking Service" || product.CreditCost != 20 {
		t.Fatalf("unexpected product %+v", product)
	}
	if _, err := svc.GetProduct(ctx, "prod-unknown"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetProduct(ctx, "   "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceMapsUnavailable(t *testing.T) {
	stub := &stubCatalogRepository{
		getFunc: func(context.Context, string) (Product, error) {
			return Product{}, &repositoryErrorStub{msg: "deadline", unavailable: true}
		},
		listFunc: func(context.Context, CatalogFilter) ([]Product, error) {
			return nil, &repositoryErrorStub{msg: "deadline", unavailable: true}
		},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{Catalog: stub})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "prod-vts-standard"); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := svc.ListProducts(context.Background(), CatalogFilter{}); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
