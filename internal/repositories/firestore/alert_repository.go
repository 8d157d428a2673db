package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tidewatch/storefront/internal/domain"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	alertCollection = "alerts"
	// Firestore caps a transaction at 500 writes.
	maxAlertWritesPerTx = 500
)

// AlertRepository persists user notifications.
type AlertRepository struct {
	provider *pfirestore.Provider
	alerts   *pfirestore.Collection[alertDocument]
}

var _ repositories.AlertRepository = (*AlertRepository)(nil)

// NewAlertRepository constructs a Firestore-backed alert repository.
func NewAlertRepository(provider *pfirestore.Provider) (*AlertRepository, error) {
	if provider == nil {
		return nil, errors.New("alert repository requires firestore provider")
	}
	return &AlertRepository{
		provider: provider,
		alerts:   pfirestore.NewCollection[alertDocument](provider, alertCollection),
	}, nil
}

func (r *AlertRepository) Insert(ctx context.Context, alert domain.Alert) error {
	ref, err := r.alerts.Doc(ctx, strings.TrimSpace(alert.ID))
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeAlert(alert)); err != nil {
		return pfirestore.WrapError("alerts.insert", err)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, alertID string) (domain.Alert, error) {
	doc, err := r.alerts.Get(ctx, strings.TrimSpace(alertID))
	if err != nil {
		return domain.Alert{}, err
	}
	return doc.decode(), nil
}

func (r *AlertRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]domain.Alert, error) {
	docs, err := r.alerts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if unreadOnly {
			q = q.Where("read", "==", false)
		}
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Alert, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.decode())
	}
	return out, nil
}

// MarkRead sets the read flag once; an alert that is already read keeps its original ReadAt.
func (r *AlertRepository) MarkRead(ctx context.Context, alertID string, readAt time.Time) error {
	ref, err := r.alerts.Doc(ctx, strings.TrimSpace(alertID))
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[alertDocument](snap)
		if err != nil {
			return err
		}
		if doc.Read {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "read", Value: true},
			{Path: "readAt", Value: readAt.UTC()},
		})
	}, pfirestore.WithTxLabel("alerts.mark_read"))
}

// MarkAllRead flags every unread alert of the user and returns how many changed.
func (r *AlertRepository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int, error) {
	unread, err := r.alerts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Where("read", "==", false)
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for start := 0; start < len(unread); start += maxAlertWritesPerTx {
		end := min(start+maxAlertWritesPerTx, len(unread))
		refs := make([]*firestore.DocumentRef, 0, end-start)
		for _, doc := range unread[start:end] {
			ref, err := r.alerts.Doc(ctx, doc.ID)
			if err != nil {
				return count, err
			}
			refs = append(refs, ref)
		}

		changed := 0
		err := r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
			changed = 0
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				if !snap.Exists() {
					continue
				}
				doc, err := pfirestore.Decode[alertDocument](snap)
				if err != nil {
					return err
				}
				if doc.Read {
					continue
				}
				if err := tx.Update(snap.Ref, []firestore.Update{
					{Path: "read", Value: true},
					{Path: "readAt", Value: readAt.UTC()},
				}); err != nil {
					return err
				}
				changed++
			}
			return nil
		}, pfirestore.WithTxLabel("alerts.mark_all_read"))
		if err != nil {
			return count, err
		}
		count += changed
	}
	return count, nil
}

func (r *AlertRepository) ExistsBySourceKey(ctx context.Context, userID, sourceKey string) (bool, error) {
	docs, err := r.alerts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Where("sourceKey", "==", sourceKey).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}
