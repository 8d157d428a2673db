package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/services"
)

const maxRFIBodySize = 64 * 1024

// RFIHandlers exposes requests for intelligence.
type RFIHandlers struct {
	authn     *auth.Authenticator
	rfis      services.RFIService
	submitMWs []func(http.Handler) http.Handler
}

// RFIOption customises RFIHandlers.
type RFIOption func(*RFIHandlers)

// WithRFISubmitMiddlewares wraps RFI creation, typically with a rate limiter.
func WithRFISubmitMiddlewares(mw ...func(http.Handler) http.Handler) RFIOption {
	return func(h *RFIHandlers) {
		h.submitMWs = append(h.submitMWs, mw...)
	}
}

// NewRFIHandlers constructs RFI handlers.
func NewRFIHandlers(authn *auth.Authenticator, rfis services.RFIService, opts ...RFIOption) *RFIHandlers {
	h := &RFIHandlers{authn: authn, rfis: rfis}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /rfis endpoints.
func (h *RFIHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	submit := r.With()
	for _, mw := range h.submitMWs {
		if mw != nil {
			submit = submit.With(mw)
		}
	}
	submit.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{rfiID}", h.get)
	r.Patch("/{rfiID}", h.update)
	r.Post("/{rfiID}:cancel", h.cancel)
}

type dateRangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type createRFIRequest struct {
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	TargetArea        string            `json:"targetArea"`
	DateRange         *dateRangeRequest `json:"dateRange"`
	AdditionalDetails string            `json:"additionalDetails"`
}

type updateRFIRequest struct {
	Title             *string           `json:"title"`
	Description       *string           `json:"description"`
	TargetArea        *string           `json:"targetArea"`
	DateRange         *dateRangeRequest `json:"dateRange"`
	AdditionalDetails *string           `json:"additionalDetails"`
	Status            *string           `json:"status"`
}

func (h *RFIHandlers) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req createRFIRequest
	if !decodeJSONBody(w, r, maxRFIBodySize, &req) {
		return
	}
	dateRange, ok := parseDateRange(w, r, req.DateRange)
	if !ok {
		return
	}
	rfi, err := h.rfis.CreateRFI(r.Context(), services.CreateRFICommand{
		UserID:            userID,
		Title:             req.Title,
		Description:       req.Description,
		TargetArea:        req.TargetArea,
		DateRange:         dateRange,
		AdditionalDetails: req.AdditionalDetails,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRFIPayload(rfi))
}

func (h *RFIHandlers) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	rfis, err := h.rfis.ListRFIs(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]rfiPayload, 0, len(rfis))
	for _, rfi := range rfis {
		items = append(items, buildRFIPayload(rfi))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *RFIHandlers) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	rfi, err := h.rfis.GetRFI(r.Context(), userID, chi.URLParam(r, "rfiID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRFIPayload(rfi))
}

func (h *RFIHandlers) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req updateRFIRequest
	if !decodeJSONBody(w, r, maxRFIBodySize, &req) {
		return
	}
	dateRange, ok := parseDateRange(w, r, req.DateRange)
	if !ok {
		return
	}
	cmd := services.UpdateRFICommand{
		UserID:            userID,
		RFIID:             chi.URLParam(r, "rfiID"),
		Title:             req.Title,
		Description:       req.Description,
		TargetArea:        req.TargetArea,
		DateRange:         dateRange,
		AdditionalDetails: req.AdditionalDetails,
	}
	if req.Status != nil {
		status := services.RFIStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	rfi, err := h.rfis.UpdateRFI(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRFIPayload(rfi))
}

func (h *RFIHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	rfi, err := h.rfis.CancelRFI(r.Context(), userID, chi.URLParam(r, "rfiID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRFIPayload(rfi))
}

func (h *RFIHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.rfis == nil {
		serviceUnavailable(r.Context(), w, "rfi")
		return "", false
	}
	return currentUserID(w, r)
}

// parseDateRange accepts RFC 3339 timestamps or plain dates.
func parseDateRange(w http.ResponseWriter, r *http.Request, req *dateRangeRequest) (*services.DateRange, bool) {
	if req == nil {
		return nil, true
	}
	start, errStart := parseDateOrTime(req.Start)
	end, errEnd := parseDateOrTime(req.End)
	var fields []httpx.FieldError
	if errStart != nil {
		fields = append(fields, httpx.FieldError{Field: "dateRange.start", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
	}
	if errEnd != nil {
		fields = append(fields, httpx.FieldError{Field: "dateRange.end", Message: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
	}
	if len(fields) > 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "dateRange is invalid", http.StatusBadRequest).WithFields(fields))
		return nil, false
	}
	return &services.DateRange{Start: start, End: end}, true
}

func parseDateOrTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
