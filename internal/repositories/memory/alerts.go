package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

// AlertRepository stores user notifications.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]domain.Alert
}

var _ repositories.AlertRepository = (*AlertRepository)(nil)

// NewAlertRepository constructs an empty notification store.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]domain.Alert)}
}

func (r *AlertRepository) Insert(_ context.Context, alert domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[alert.ID]; exists {
		return conflict("alerts.insert", "alert %q already exists", alert.ID)
	}
	r.alerts[alert.ID] = alert
	return nil
}

func (r *AlertRepository) Get(_ context.Context, alertID string) (domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[alertID]
	if !ok {
		return domain.Alert{}, notFound("alerts.get", "alert %q not found", alertID)
	}
	return alert, nil
}

func (r *AlertRepository) ListByUser(_ context.Context, userID string, unreadOnly bool) ([]domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Alert
	for _, alert := range r.alerts {
		if alert.UserID != userID || (unreadOnly && alert.Read) {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *AlertRepository) MarkRead(_ context.Context, alertID string, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[alertID]
	if !ok {
		return notFound("alerts.mark_read", "alert %q not found", alertID)
	}
	if alert.Read {
		return nil
	}
	alert.Read = true
	alert.ReadAt = &readAt
	r.alerts[alertID] = alert
	return nil
}

func (r *AlertRepository) MarkAllRead(_ context.Context, userID string, readAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, alert := range r.alerts {
		if alert.UserID != userID || alert.Read {
			continue
		}
		alert.Read = true
		stamp := readAt
		alert.ReadAt = &stamp
		r.alerts[id] = alert
		count++
	}
	return count, nil
}

func (r *AlertRepository) ExistsBySourceKey(_ context.Context, userID, sourceKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, alert := range r.alerts {
		if alert.UserID == userID && alert.SourceKey == sourceKey {
			return true, nil
		}
	}
	return false, nil
}
