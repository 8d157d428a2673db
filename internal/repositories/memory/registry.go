package memory

import (
	"context"

	"github.com/tidewatch/storefront/internal/repositories"
)

// Registry wires every in-memory repository.
type Registry struct {
	catalog      *CatalogRepository
	carts        *CartRepository
	orders       *OrderRepository
	userProducts *UserProductRepository
	credits      *CreditRepository
	rfis         *RFIRepository
	alerts       *AlertRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds a registry around the given catalog. The health repository may be nil.
func NewRegistry(catalog *CatalogRepository, health repositories.HealthRepository) *Registry {
	orders, userProducts := NewOrderRepositories()
	return &Registry{
		catalog:      catalog,
		carts:        NewCartRepository(),
		orders:       orders,
		userProducts: userProducts,
		credits:      NewCreditRepository(),
		rfis:         NewRFIRepository(),
		alerts:       NewAlertRepository(),
		health:       health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) UserProducts() repositories.UserProductRepository { return r.userProducts }

func (r *Registry) Credits() repositories.CreditRepository { return r.credits }

func (r *Registry) RFIs() repositories.RFIRepository { return r.rfis }

func (r *Registry) Alerts() repositories.AlertRepository { return r.alerts }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
