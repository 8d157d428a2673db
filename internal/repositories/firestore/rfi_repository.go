package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tidewatch/storefront/internal/domain"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

const rfiCollection = "rfis"

// RFIRepository persists requests for intelligence.
type RFIRepository struct {
	rfis *pfirestore.Collection[rfiDocument]
}

var _ repositories.RFIRepository = (*RFIRepository)(nil)

// NewRFIRepository constructs a Firestore-backed RFI repository.
func NewRFIRepository(provider *pfirestore.Provider) (*RFIRepository, error) {
	if provider == nil {
		return nil, errors.New("rfi repository requires firestore provider")
	}
	return &RFIRepository{rfis: pfirestore.NewCollection[rfiDocument](provider, rfiCollection)}, nil
}

func (r *RFIRepository) Insert(ctx context.Context, rfi domain.RFI) error {
	ref, err := r.rfis.Doc(ctx, strings.TrimSpace(rfi.ID))
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeRFI(rfi)); err != nil {
		return pfirestore.WrapError("rfis.insert", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing RFI; updating a missing document is a
// not-found error.
func (r *RFIRepository) Update(ctx context.Context, rfi domain.RFI) error {
	doc := encodeRFI(rfi)
	var start, end any = firestore.Delete, firestore.Delete
	if doc.DateRangeStart != nil && doc.DateRangeEnd != nil {
		start, end = *doc.DateRangeStart, *doc.DateRangeEnd
	}
	return r.rfis.Update(ctx, strings.TrimSpace(rfi.ID), []firestore.Update{
		{Path: "title", Value: doc.Title},
		{Path: "description", Value: doc.Description},
		{Path: "targetArea", Value: doc.TargetArea},
		{Path: "dateRangeStart", Value: start},
		{Path: "dateRangeEnd", Value: end},
		{Path: "additionalDetails", Value: doc.AdditionalDetails},
		{Path: "status", Value: doc.Status},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	})
}

func (r *RFIRepository) Get(ctx context.Context, rfiID string) (domain.RFI, error) {
	doc, err := r.rfis.Get(ctx, strings.TrimSpace(rfiID))
	if err != nil {
		return domain.RFI{}, err
	}
	return doc.decode(), nil
}

func (r *RFIRepository) ListByUser(ctx context.Context, userID string) ([]domain.RFI, error) {
	docs, err := r.rfis.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RFI, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.decode())
	}
	return out, nil
}
