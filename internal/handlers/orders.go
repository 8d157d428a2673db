package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/platform/pagination"
	"github.com/tidewatch/storefront/internal/services"
)

const maxOrderBodySize = 128 * 1024

// OrderHandlers exposes checkout and order history for authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	checkoutMWs []func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithCheckoutMiddlewares wraps POST /orders, e.g. with idempotency and rate limiting. They run
// after authentication.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.checkoutMWs = append(h.checkoutMWs, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	checkout := r.With()
	for _, mw := range h.checkoutMWs {
		if mw != nil {
			checkout = checkout.With(mw)
		}
	}
	checkout.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

type orderLineRequest struct {
	ProductID            string          `json:"productId"`
	Quantity             int             `json:"quantity"`
	ConfigurationDetails json.RawMessage `json:"configurationDetails"`
	Configuration        json.RawMessage `json:"configuration"`
	UnitPrice            *string         `json:"unitPrice,omitempty"`
}

type createOrderRequest struct {
	Items          []orderLineRequest `json:"items"`
	FromCart       bool               `json:"fromCart"`
	PaymentMethod  string             `json:"paymentMethod"`
	PaymentDetails map[string]string  `json:"paymentDetails"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:         userID,
		PaymentMethod:  services.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		PaymentDetails: req.PaymentDetails,
		FromCart:       req.FromCart,
	}
	for idx, line := range req.Items {
		input := services.OrderLineInput{
			ProductID:     strings.TrimSpace(line.ProductID),
			Quantity:      line.Quantity,
			Configuration: configurationDetails(line.ConfigurationDetails, line.Configuration),
		}
		if line.UnitPrice != nil {
			price, err := decimal.NewFromString(strings.TrimSpace(*line.UnitPrice))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unitPrice must be a decimal string", http.StatusBadRequest).
					WithFields([]httpx.FieldError{{Field: fieldPath("items", idx, "unitPrice"), Message: "must be a decimal string"}}))
				return
			}
			input.ClientUnitPrice = &price
		}
		cmd.Items = append(cmd.Items, input)
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	params, err := pagination.FromRequest(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, userID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return "", false
	}
	return currentUserID(w, r)
}
