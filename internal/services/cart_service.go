package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	defaultCartCurrency = "USD"
	maxCartItemQuantity = 999
	cartItemIDPrefix    = "ci_"
)

var (
	// ErrCartInvalidInput indicates malformed cart commands.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartItemNotFound indicates the cart line does not exist.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartProductNotFound indicates the referenced product is not in the catalog.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartUnavailable indicates the cart store could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// CartServiceDeps bundles constructor inputs for the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Catalog     CatalogService
	Registry    ConfigurationRegistry
	Pricing     PricingEngine
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type cartService struct {
	carts    repositories.CartRepository
	catalog  CatalogService
	registry ConfigurationRegistry
	pricing  PricingEngine
	currency string
	now      func() time.Time
	newID    func() string
	logger   Logger
}

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog service is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("cart service: configuration registry is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCartCurrency
	}
	return &cartService{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		registry: deps.Registry,
		pricing:  deps.Pricing,
		currency: currency,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.load(ctx, userID)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	quantity := 1
	if cmd.Quantity != nil {
		quantity = *cmd.Quantity
	}
	if quantity < 1 || quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	product, err := s.resolveProduct(ctx, cmd.ProductID)
	if err != nil {
		return Cart{}, err
	}
	line, err := s.priceLine(product, cmd.Configuration)
	if err != nil {
		return Cart{}, err
	}
	line.ItemID = newID(s.newID, cartItemIDPrefix)
	line.Quantity = quantity
	line.AddedAt = s.now()

	cart, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	merged, err := cart.AddItem(line)
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	if merged.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartItemQuantity)
	}
	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	s.logger(ctx, "cart.item_added", map[string]any{
		"userId":    userID,
		"productId": product.ID,
		"itemId":    merged.ItemID,
		"quantity":  merged.Quantity,
	})
	return cart, nil
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity == nil && len(cmd.Configuration) == 0 {
		return Cart{}, fmt.Errorf("%w: quantity or configuration is required", ErrCartInvalidInput)
	}
	if cmd.Quantity != nil && (*cmd.Quantity < 0 || *cmd.Quantity > maxCartItemQuantity) {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	cart, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	item, ok := cart.FindItem(itemID)
	if !ok {
		return Cart{}, ErrCartItemNotFound
	}

	if len(cmd.Configuration) > 0 {
		product, err := s.resolveProduct(ctx, item.Product.ID)
		if err != nil {
			return Cart{}, err
		}
		line, err := s.priceLine(product, cmd.Configuration)
		if err != nil {
			return Cart{}, err
		}
		reconfigured, err := cart.Reconfigure(itemID, line.Configuration, line.ConfiguredPrice, line.ConfiguredCreditCost)
		if err != nil {
			return Cart{}, ErrCartItemNotFound
		}
		itemID = reconfigured.ItemID
	}
	if cmd.Quantity != nil {
		if err := cart.UpdateQuantity(itemID, *cmd.Quantity); err != nil {
			if errors.Is(err, domain.ErrCartItemNotFound) {
				return Cart{}, ErrCartItemNotFound
			}
			return Cart{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
	}

	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, itemID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if !cart.RemoveItem(strings.TrimSpace(itemID)) {
		return cart, nil
	}
	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	cart.Clear()
	if err := s.save(ctx, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// priceLine validates the configuration against the product and prices it. Lines without a
// configuration keep the catalog values.
func (s *cartService) priceLine(product Product, rawConfig []byte) (CartItem, error) {
	line := CartItem{Product: product}
	if len(rawConfig) == 0 || string(rawConfig) == "null" {
		return line, nil
	}
	config, err := s.registry.ValidateConfiguration(product.Type, rawConfig)
	if err != nil {
		return CartItem{}, err
	}
	validated, err := s.registry.ValidateForProduct(product, &config)
	if err != nil {
		return CartItem{}, err
	}
	quote, err := s.pricing.Price(product, validated)
	if err != nil {
		return CartItem{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	price := quote.Price
	credits := quote.CreditCost
	line.Configuration = validated
	line.ConfiguredPrice = &price
	line.ConfiguredCreditCost = &credits
	return line, nil
}

func (s *cartService) resolveProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogProductNotFound) {
			return Product{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *cartService) load(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{UserID: userID, Currency: s.currency}, nil
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	cart.RecomputeTotals()
	return cart, nil
}

func (s *cartService) save(ctx context.Context, cart *Cart) error {
	cart.RecomputeTotals()
	cart.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, *cart); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if isRepoUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return fmt.Errorf("cart service: %w", err)
}
