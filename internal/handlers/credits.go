package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/services"
)

const maxCreditBodySize = 4 * 1024

// CreditHandlers exposes the credits balance and ledger.
type CreditHandlers struct {
	authn   *auth.Authenticator
	credits services.CreditService
}

// NewCreditHandlers constructs credit handlers.
func NewCreditHandlers(authn *auth.Authenticator, credits services.CreditService) *CreditHandlers {
	return &CreditHandlers{authn: authn, credits: credits}
}

// Routes registers the /credits endpoints.
func (h *CreditHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	r.Get("/balance", h.balance)
	r.Get("/transactions", h.transactions)
	r.Post("/purchase", h.purchase)
}

type purchaseCreditsRequest struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

func (h *CreditHandlers) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	account, err := h.credits.GetBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"balance":   account.Balance,
		"updatedAt": formatTime(account.UpdatedAt),
	})
}

func (h *CreditHandlers) transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	txns, err := h.credits.ListTransactions(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]creditTransactionPayload, 0, len(txns))
	for _, txn := range txns {
		items = append(items, buildCreditTransactionPayload(txn))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CreditHandlers) purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req purchaseCreditsRequest
	if !decodeJSONBody(w, r, maxCreditBodySize, &req) {
		return
	}
	result, err := h.credits.PurchaseCredits(r.Context(), services.PurchaseCreditsCommand{
		UserID:      userID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"transaction": buildCreditTransactionPayload(result.Transaction),
		"newBalance":  result.NewBalance,
	})
}

func (h *CreditHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.credits == nil {
		serviceUnavailable(r.Context(), w, "credit")
		return "", false
	}
	return currentUserID(w, r)
}
