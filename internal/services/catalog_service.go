package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidewatch/storefront/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates an unusable filter or identifier.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the product id is not in the catalog.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogUnavailable indicates the backing store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

const maxCatalogSearchLength = 200

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
}

type catalogService struct {
	repo repositories.CatalogRepository
}

// NewCatalogService constructs the catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	return &catalogService{repo: deps.Catalog}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter CatalogFilter) ([]Product, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown product type %q", ErrCatalogInvalidInput, filter.Type)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	if len(filter.Search) > maxCatalogSearchLength {
		return nil, fmt.Errorf("%w: search too long", ErrCatalogInvalidInput)
	}
	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return products, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.Get(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	default:
		return fmt.Errorf("catalog service: %w", err)
	}
}
