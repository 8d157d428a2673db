package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

// Registry wires the Firestore repositories. The catalog is supplied by the caller because it is
// loaded from a seed rather than stored in Firestore.
type Registry struct {
	provider     *pfirestore.Provider
	catalog      repositories.CatalogRepository
	carts        *CartRepository
	orders       *OrderRepository
	userProducts *UserProductRepository
	credits      *CreditRepository
	rfis         *RFIRepository
	alerts       *AlertRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository on the shared provider.
func NewRegistry(provider *pfirestore.Provider, catalog repositories.CatalogRepository, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	if catalog == nil {
		return nil, errors.New("firestore registry requires catalog repository")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, userProducts, err := NewOrderRepositories(provider)
	if err != nil {
		return nil, err
	}
	credits, err := NewCreditRepository(provider)
	if err != nil {
		return nil, err
	}
	rfis, err := NewRFIRepository(provider)
	if err != nil {
		return nil, err
	}
	alerts, err := NewAlertRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:     provider,
		catalog:      catalog,
		carts:        carts,
		orders:       orders,
		userProducts: userProducts,
		credits:      credits,
		rfis:         rfis,
		alerts:       alerts,
		health:       health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if err := r.provider.Close(ctx); err != nil {
		return fmt.Errorf("firestore registry: close: %w", err)
	}
	return nil
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) UserProducts() repositories.UserProductRepository { return r.userProducts }

func (r *Registry) Credits() repositories.CreditRepository { return r.credits }

func (r *Registry) RFIs() repositories.RFIRepository { return r.rfis }

func (r *Registry) Alerts() repositories.AlertRepository { return r.alerts }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
