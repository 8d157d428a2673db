package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

var (
	// ErrUserProductInvalidInput indicates malformed entitlement requests.
	ErrUserProductInvalidInput = errors.New("user product: invalid input")
	// ErrUserProductNotFound indicates the entitlement does not exist for the caller.
	ErrUserProductNotFound = errors.New("user product: not found")
	// ErrUserProductInvalidState indicates a lifecycle action not allowed from the current status.
	ErrUserProductInvalidState = errors.New("user product: invalid status transition")
	// ErrUserProductUnavailable indicates the store could not be reached.
	ErrUserProductUnavailable = errors.New("user product: unavailable")
)

var userProductTransitions = map[domain.UserProductStatus][]domain.UserProductStatus{
	domain.UserProductStatusCancelled: {
		domain.UserProductStatusActive,
		domain.UserProductStatusPendingActivation,
		domain.UserProductStatusSuspended,
	},
	domain.UserProductStatusSuspended: {
		domain.UserProductStatusActive,
	},
}

// UserProductServiceDeps bundles constructor inputs for the entitlement service.
type UserProductServiceDeps struct {
	UserProducts repositories.UserProductRepository
	Clock        func() time.Time
	Logger       Logger
}

type userProductService struct {
	repo   repositories.UserProductRepository
	now    func() time.Time
	logger Logger
}

// NewUserProductService constructs the entitlement service.
func NewUserProductService(deps UserProductServiceDeps) (UserProductService, error) {
	if deps.UserProducts == nil {
		return nil, errors.New("user product service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &userProductService{
		repo:   deps.UserProducts,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *userProductService) ListUserProducts(ctx context.Context, userID string) ([]UserProduct, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserProductInvalidInput)
	}
	products, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	now := s.now()
	out := make([]UserProduct, 0, len(products))
	for _, product := range products {
		product.Status = product.EffectiveStatus(now)
		out = append(out, product)
	}
	return out, nil
}

func (s *userProductService) GetUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error) {
	product, err := s.load(ctx, userID, userProductID)
	if err != nil {
		return UserProduct{}, err
	}
	product.Status = product.EffectiveStatus(s.now())
	return product, nil
}

func (s *userProductService) CancelUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error) {
	return s.transition(ctx, userID, userProductID, domain.UserProductStatusCancelled)
}

func (s *userProductService) SuspendUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error) {
	return s.transition(ctx, userID, userProductID, domain.UserProductStatusSuspended)
}

// transition applies an explicit lifecycle action. The allowed sources are checked against the
// effective status so expired entitlements cannot be revived or suspended.
func (s *userProductService) transition(ctx context.Context, userID, userProductID string, target domain.UserProductStatus) (UserProduct, error) {
	product, err := s.load(ctx, userID, userProductID)
	if err != nil {
		return UserProduct{}, err
	}
	current := product.EffectiveStatus(s.now())
	if !slices.Contains(userProductTransitions[target], current) {
		return UserProduct{}, fmt.Errorf("%w: %s -> %s", ErrUserProductInvalidState, current, target)
	}
	updated, err := s.repo.UpdateStatus(ctx, product.ID, target)
	if err != nil {
		return UserProduct{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "user_product.status_changed", map[string]any{
		"userProductId": updated.ID,
		"userId":        updated.UserID,
		"from":          string(current),
		"to":            string(target),
	})
	updated.Status = updated.EffectiveStatus(s.now())
	return updated, nil
}

func (s *userProductService) load(ctx context.Context, userID, userProductID string) (UserProduct, error) {
	userID = strings.TrimSpace(userID)
	userProductID = strings.TrimSpace(userProductID)
	if userID == "" || userProductID == "" {
		return UserProduct{}, fmt.Errorf("%w: user id and user product id are required", ErrUserProductInvalidInput)
	}
	product, err := s.repo.Get(ctx, userProductID)
	if err != nil {
		return UserProduct{}, s.mapRepositoryError(err)
	}
	if product.UserID != userID {
		return UserProduct{}, ErrUserProductNotFound
	}
	return product, nil
}

func (s *userProductService) mapRepositoryError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrUserProductNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrUserProductUnavailable, err)
	default:
		return fmt.Errorf("user product: %w", err)
	}
}
