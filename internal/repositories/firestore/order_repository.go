package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tidewatch/storefront/internal/domain"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/platform/pagination"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	orderCollection       = "orders"
	userProductCollection = "userProducts"
)

// OrderRepository writes orders and their entitlements in one Firestore transaction.
type OrderRepository struct {
	provider     *pfirestore.Provider
	orders       *pfirestore.Collection[orderDocument]
	userProducts *pfirestore.Collection[userProductDocument]
}

// UserProductRepository reads and updates entitlement documents.
type UserProductRepository struct {
	provider     *pfirestore.Provider
	userProducts *pfirestore.Collection[userProductDocument]
}

var (
	_ repositories.OrderRepository       = (*OrderRepository)(nil)
	_ repositories.UserProductRepository = (*UserProductRepository)(nil)
)

// NewOrderRepositories constructs the paired order and entitlement repositories.
func NewOrderRepositories(provider *pfirestore.Provider) (*OrderRepository, *UserProductRepository, error) {
	if provider == nil {
		return nil, nil, errors.New("order repository requires firestore provider")
	}
	userProducts := pfirestore.NewCollection[userProductDocument](provider, userProductCollection)
	orders := &OrderRepository{
		provider:     provider,
		orders:       pfirestore.NewCollection[orderDocument](provider, orderCollection),
		userProducts: userProducts,
	}
	return orders, &UserProductRepository{provider: provider, userProducts: userProducts}, nil
}

// Insert creates the order and every entitlement. Create fails on existing documents, which makes
// the whole transaction a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, entitlements []domain.UserProduct) error {
	orderDoc, err := encodeOrder(order)
	if err != nil {
		return err
	}
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}

	type pending struct {
		ref *firestore.DocumentRef
		doc userProductDocument
	}
	writes := make([]pending, 0, len(entitlements))
	for _, entitlement := range entitlements {
		doc, err := encodeUserProduct(entitlement)
		if err != nil {
			return err
		}
		ref, err := r.userProducts.Doc(ctx, entitlement.ID)
		if err != nil {
			return err
		}
		writes = append(writes, pending{ref: ref, doc: doc})
	}

	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(orderRef, orderDoc); err != nil {
			return err
		}
		for _, w := range writes {
			if err := tx.Create(w.ref, w.doc); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxLabel("orders.insert"))
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.decode()
}

// ListByUser pages newest first. The page token carries the purchase date and ID of the last
// order returned.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	startAfter, err := orderCursorValues(cursor)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("purchaseDate", firestore.Desc).
			OrderBy("id", firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for idx, doc := range docs {
		if idx == size {
			last := docs[size-1]
			page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.PurchaseDate.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			break
		}
		order, err := doc.decode()
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func orderCursorValues(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: unexpected cursor", pagination.ErrInvalidPageToken)
	}
	rawDate, okDate := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okDate || !okID {
		return nil, fmt.Errorf("%w: unexpected cursor", pagination.ErrInvalidPageToken)
	}
	purchased, err := time.Parse(time.RFC3339Nano, rawDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return []any{purchased, id}, nil
}

func (r *UserProductRepository) ListByUser(ctx context.Context, userID string) ([]domain.UserProduct, error) {
	docs, err := r.userProducts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("purchaseDate", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return decodeUserProducts(docs)
}

func (r *UserProductRepository) Get(ctx context.Context, userProductID string) (domain.UserProduct, error) {
	doc, err := r.userProducts.Get(ctx, strings.TrimSpace(userProductID))
	if err != nil {
		return domain.UserProduct{}, err
	}
	return doc.decode()
}

func (r *UserProductRepository) UpdateStatus(ctx context.Context, userProductID string, status domain.UserProductStatus) (domain.UserProduct, error) {
	ref, err := r.userProducts.Doc(ctx, strings.TrimSpace(userProductID))
	if err != nil {
		return domain.UserProduct{}, err
	}

	var updated userProductDocument
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[userProductDocument](snap)
		if err != nil {
			return err
		}
		doc.Status = string(status)
		updated = doc
		return tx.Update(ref, []firestore.Update{{Path: "status", Value: string(status)}})
	}, pfirestore.WithTxLabel("user_products.status"))
	if err != nil {
		return domain.UserProduct{}, err
	}
	return updated.decode()
}

func (r *UserProductRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.UserProduct, error) {
	docs, err := r.userProducts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiryDate", ">=", from.UTC()).
			Where("expiryDate", "<=", to.UTC()).
			OrderBy("expiryDate", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return decodeUserProducts(docs)
}

func decodeUserProducts(docs []userProductDocument) ([]domain.UserProduct, error) {
	out := make([]domain.UserProduct, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, nil
}
