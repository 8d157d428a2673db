package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/services"
)

// AlertHandlers exposes user notifications.
type AlertHandlers struct {
	authn  *auth.Authenticator
	alerts services.AlertService
}

// NewAlertHandlers constructs alert handlers.
func NewAlertHandlers(authn *auth.Authenticator, alerts services.AlertService) *AlertHandlers {
	return &AlertHandlers{authn: authn, alerts: alerts}
}

// Routes registers alert endpoints on the API root because /alerts:read-all is a sibling of the
// /alerts collection rather than a child.
func (h *AlertHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		g.Use(requireAuth(h.authn))
		g.Get("/alerts", h.list)
		g.Post("/alerts/{alertID}:read", h.markRead)
		g.Post("/alerts:read-all", h.markAllRead)
	})
}

func (h *AlertHandlers) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	unreadOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "unread must be a boolean", http.StatusBadRequest))
			return
		}
		unreadOnly = parsed
	}
	alerts, err := h.alerts.ListAlerts(r.Context(), userID, unreadOnly)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]alertPayload, 0, len(alerts))
	unread := 0
	for _, alert := range alerts {
		if !alert.Read {
			unread++
		}
		items = append(items, buildAlertPayload(alert))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items, "unreadCount": unread})
}

func (h *AlertHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	if err := h.alerts.MarkRead(r.Context(), userID, chi.URLParam(r, "alertID")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	count, err := h.alerts.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"updated": count})
}

func (h *AlertHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.alerts == nil {
		serviceUnavailable(r.Context(), w, "alert")
		return "", false
	}
	return currentUserID(w, r)
}
