package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/services"
)

const defaultExpiryWindow = 7 * 24 * time.Hour

// AdminHandlers exposes staff-only operational endpoints.
type AdminHandlers struct {
	authn        *auth.Authenticator
	alerts       services.AlertService
	userProducts services.UserProductService
	window       time.Duration
	clock        func() time.Time
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithExpiryWindow sets how far ahead the expiry sweep looks.
func WithExpiryWindow(window time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		if window > 0 {
			h.window = window
		}
	}
}

// WithAdminClock overrides the clock used by the expiry sweep.
func WithAdminClock(clock func() time.Time) AdminOption {
	return func(h *AdminHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewAdminHandlers constructs staff handlers.
func NewAdminHandlers(authn *auth.Authenticator, alerts services.AlertService, userProducts services.UserProductService, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{
		authn:        authn,
		alerts:       alerts,
		userProducts: userProducts,
		window:       defaultExpiryWindow,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints behind the staff role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn, auth.RoleStaff))
	r.Post("/alerts:sweep-expiring", h.sweepExpiring)
	r.Post("/users/{userID}/user-products/{userProductID}:suspend", h.suspendUserProduct)
}

func (h *AdminHandlers) sweepExpiring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.alerts == nil {
		serviceUnavailable(ctx, w, "alert")
		return
	}
	created, err := h.alerts.NotifyExpiringProducts(ctx, h.clock().UTC(), h.window)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"created": created, "window": h.window.String()})
}

func (h *AdminHandlers) suspendUserProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.userProducts == nil {
		serviceUnavailable(ctx, w, "user product")
		return
	}
	product, err := h.userProducts.SuspendUserProduct(ctx, chi.URLParam(r, "userID"), chi.URLParam(r, "userProductID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserProductPayload(product))
}
