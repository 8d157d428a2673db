package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/services"
)

const maxQuoteBodySize = 32 * 1024

// CatalogHandlers exposes the public product catalog, configuration forms and price quotes.
type CatalogHandlers struct {
	catalog  services.CatalogService
	registry services.ConfigurationRegistry
	pricing  services.PricingEngine
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService, registry services.ConfigurationRegistry, pricing services.PricingEngine) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, registry: registry, pricing: pricing}
}

// Routes wires the /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
	r.Get("/{productID}/configuration/default", h.defaultConfiguration)
	r.Get("/{productID}/configuration-schema", h.configurationSchema)
	r.Post("/{productID}/quote", h.quote)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}

	query := r.URL.Query()
	filter := services.CatalogFilter{Search: strings.TrimSpace(query.Get("search"))}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		productType, ok := domain.ParseProductType(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown product type "+raw, http.StatusBadRequest))
			return
		}
		filter.Type = productType
	}

	products, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) defaultConfiguration(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.registry == nil {
		serviceUnavailable(ctx, w, "configuration")
		return
	}
	config, err := h.registry.DefaultConfiguration(product.Type)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"configuration": config})
}

func (h *CatalogHandlers) configurationSchema(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.registry == nil {
		serviceUnavailable(ctx, w, "configuration")
		return
	}
	schema, err := h.registry.FormSchema(product.Type)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema)
}

type quoteRequest struct {
	Configuration json.RawMessage `json:"configuration"`
}

type quoteResponse struct {
	ProductID     string                         `json:"productId"`
	Price         string                         `json:"price"`
	CreditCost    int                            `json:"creditCost"`
	Currency      string                         `json:"currency"`
	Configuration *services.ProductConfiguration `json:"configuration,omitempty"`
}

func (h *CatalogHandlers) quote(w http.ResponseWriter, r *http.Request) {
	product, ok := h.loadProduct(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.registry == nil || h.pricing == nil {
		serviceUnavailable(ctx, w, "pricing")
		return
	}

	var req quoteRequest
	if !decodeJSONBody(w, r, maxQuoteBodySize, &req) {
		return
	}

	var config *services.ProductConfiguration
	if len(req.Configuration) > 0 && string(req.Configuration) != "null" {
		parsed, err := h.registry.ValidateConfiguration(product.Type, req.Configuration)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		config = &parsed
	}
	config, err := h.registry.ValidateForProduct(product, config)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	quote, err := h.pricing.Price(product, config)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, quoteResponse{
		ProductID:     product.ID,
		Price:         quote.Price.StringFixed(2),
		CreditCost:    quote.CreditCost,
		Currency:      "USD",
		Configuration: config,
	})
}

func (h *CatalogHandlers) loadProduct(w http.ResponseWriter, r *http.Request) (services.Product, bool) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return services.Product{}, false
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return services.Product{}, false
	}
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Product{}, false
	}
	return product, true
}
