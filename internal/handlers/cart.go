package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/services"
)

const maxCartBodySize = 32 * 1024

// CartHandlers exposes the authenticated user's cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart
// service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

// Item bodies carry the configuration as configurationDetails; configuration is accepted as an
// older spelling.
type addCartItemRequest struct {
	ProductID            string          `json:"productId"`
	Quantity             *int            `json:"quantity"`
	ConfigurationDetails json.RawMessage `json:"configurationDetails"`
	Configuration        json.RawMessage `json:"configuration"`
}

type updateCartItemRequest struct {
	Quantity             *int            `json:"quantity"`
	ConfigurationDetails json.RawMessage `json:"configurationDetails"`
	Configuration        json.RawMessage `json:"configuration"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), userID)
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{
		UserID:        userID,
		ProductID:     strings.TrimSpace(req.ProductID),
		Quantity:      req.Quantity,
		Configuration: configurationDetails(req.ConfigurationDetails, req.Configuration),
	})
	h.respond(w, r, http.StatusCreated, cart, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	config := configurationDetails(req.ConfigurationDetails, req.Configuration)
	if req.Quantity == nil && len(config) == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity or configurationDetails is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.UpdateItem(r.Context(), services.UpdateCartItemCommand{
		UserID:        userID,
		ItemID:        chi.URLParam(r, "itemID"),
		Quantity:      req.Quantity,
		Configuration: config,
	})
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), userID, chi.URLParam(r, "itemID"))
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.ClearCart(r.Context(), userID)
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.carts == nil {
		serviceUnavailable(r.Context(), w, "cart")
		return "", false
	}
	return currentUserID(w, r)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, status int, cart services.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, status, map[string]any{"cart": buildCartPayload(cart)})
}

func configurationDetails(details, legacy json.RawMessage) json.RawMessage {
	if len(details) > 0 {
		return details
	}
	return legacy
}
