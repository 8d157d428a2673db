package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/services"
)

// UserProductHandlers exposes the caller's entitlements.
type UserProductHandlers struct {
	authn    *auth.Authenticator
	products services.UserProductService
}

// NewUserProductHandlers constructs entitlement handlers.
func NewUserProductHandlers(authn *auth.Authenticator, products services.UserProductService) *UserProductHandlers {
	return &UserProductHandlers{authn: authn, products: products}
}

// Routes registers the /user-products endpoints.
func (h *UserProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	r.Get("/", h.list)
	r.Get("/{userProductID}", h.get)
	r.Post("/{userProductID}:cancel", h.cancel)
}

func (h *UserProductHandlers) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	products, err := h.products.ListUserProducts(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]userProductPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildUserProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *UserProductHandlers) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	product, err := h.products.GetUserProduct(r.Context(), userID, chi.URLParam(r, "userProductID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserProductPayload(product))
}

func (h *UserProductHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	product, err := h.products.CancelUserProduct(r.Context(), userID, chi.URLParam(r, "userProductID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserProductPayload(product))
}

func (h *UserProductHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.products == nil {
		serviceUnavailable(r.Context(), w, "user product")
		return "", false
	}
	return currentUserID(w, r)
}
