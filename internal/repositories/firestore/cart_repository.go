package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/tidewatch/storefront/internal/domain"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

const cartCollection = "carts"

// CartRepository stores one cart document per user, keyed by user ID.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{carts: pfirestore.NewCollection[cartDocument](provider, cartCollection)}, nil
}

func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := doc.decode()
	if err != nil {
		return domain.Cart{}, err
	}
	cart.UserID = userID
	return cart, nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	doc, err := encodeCart(cart)
	if err != nil {
		return err
	}
	return r.carts.Set(ctx, strings.TrimSpace(cart.UserID), doc)
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	return r.carts.Delete(ctx, strings.TrimSpace(userID))
}
