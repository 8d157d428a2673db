package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

// RFIRepository stores requests for intelligence by id.
type RFIRepository struct {
	mu   sync.RWMutex
	rfis map[string]domain.RFI
}

var _ repositories.RFIRepository = (*RFIRepository)(nil)

// NewRFIRepository constructs an empty RFI store.
func NewRFIRepository() *RFIRepository {
	return &RFIRepository{rfis: make(map[string]domain.RFI)}
}

func (r *RFIRepository) Insert(_ context.Context, rfi domain.RFI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rfis[rfi.ID]; exists {
		return conflict("rfis.insert", "rfi %q already exists", rfi.ID)
	}
	r.rfis[rfi.ID] = rfi
	return nil
}

func (r *RFIRepository) Update(_ context.Context, rfi domain.RFI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rfis[rfi.ID]; !exists {
		return notFound("rfis.update", "rfi %q not found", rfi.ID)
	}
	r.rfis[rfi.ID] = rfi
	return nil
}

func (r *RFIRepository) Get(_ context.Context, rfiID string) (domain.RFI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rfi, ok := r.rfis[rfiID]
	if !ok {
		return domain.RFI{}, notFound("rfis.get", "rfi %q not found", rfiID)
	}
	return rfi, nil
}

func (r *RFIRepository) ListByUser(_ context.Context, userID string) ([]domain.RFI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RFI
	for _, rfi := range r.rfis {
		if rfi.UserID == userID {
			out = append(out, rfi)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
