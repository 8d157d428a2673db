package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

type orderListBody struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

func buyCredits(t *testing.T, app *testApp, user string, amount int) {
	t.Helper()
	rr := app.do(t, http.MethodPost, "/api/v1/credits/purchase", user, map[string]any{"amount": amount})
	expectStatus(t, rr, http.StatusCreated)
}

func placeVTSOrder(t *testing.T, app *testApp, user string) orderPayload {
	t.Helper()
	rr := app.do(t, http.MethodPost, "/api/v1/orders", user,
		`{"paymentMethod":"Credits","items":[{"productId":"prod-vts-standard","quantity":1,"configurationDetails":`+vtsConfigJSON+`,"unitPrice":"1.00"}]}`)
	expectStatus(t, rr, http.StatusCreated)
	return decodeBody[orderPayload](t, rr)
}

func TestOrderHandlersCreateWithCredits(t *testing.T) {
	app := newTestApp(t)
	buyCredits(t, app, "user-1", 100)

	rr := app.do(t, http.MethodPost, "/api/v1/orders", "user-1",
		`{"paymentMethod":"credits","items":[{"productId":"prod-vts-standard","quantity":1,"configuration":`+vtsConfigJSON+`,"unitPrice":"1.00"}]}`)
	expectStatus(t, rr, http.StatusCreated)
	order := decodeBody[orderPayload](t, rr)
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/"+order.ID {
		t.Fatalf("unexpected location %q", loc)
	}
	if order.TotalAmount != "479.98" || order.TotalCredits != 48 || order.Status != "completed" || order.PaymentMethod != "credits" {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPrice != "479.98" || order.Items[0].ConfigurationDetails == nil {
		t.Fatalf("expected server priced line, got %+v", order.Items)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/credits/balance", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	balance := decodeBody[struct {
		Balance int `json:"balance"`
	}](t, rr)
	if balance.Balance != 52 {
		t.Fatalf("expected balance 52, got %d", balance.Balance)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, "user-1", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = app.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, "user-2", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestOrderHandlersErrors(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "empty", body: `{"paymentMethod":"credits","items":[]}`, status: http.StatusUnprocessableEntity, code: "EMPTY_ORDER"},
		{name: "insufficient credits", body: `{"paymentMethod":"credits","items":[{"productId":"prod-investigation","quantity":1}]}`, status: http.StatusPaymentRequired, code: "INSUFFICIENT_CREDITS"},
		{name: "unknown product", body: `{"paymentMethod":"credits","items":[{"productId":"prod-missing","quantity":1}]}`, status: http.StatusNotFound, code: "PRODUCT_NOT_FOUND"},
		{name: "bad payment method", body: `{"paymentMethod":"cash","items":[{"productId":"prod-investigation","quantity":1}]}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad unit price", body: `{"paymentMethod":"credits","items":[{"productId":"prod-investigation","quantity":1,"unitPrice":"abc"}]}`, status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := app.do(t, http.MethodPost, "/api/v1/orders", "user-1", tc.body)
			expectStatus(t, rr, tc.status)
			if body := decodeBody[errorBody](t, rr); body.Error != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, body.Error)
			}
		})
	}

	rr := app.do(t, http.MethodPost, "/api/v1/orders", "user-1", `{"paymentMethod":"credits","items":[{"productId":"prod-investigation","quantity":1,"unitPrice":"abc"}]}`)
	body := decodeBody[errorBody](t, rr)
	if len(body.Fields) != 1 || body.Fields[0].Field != "items[0].unitPrice" {
		t.Fatalf("expected unitPrice field error, got %+v", body.Fields)
	}
}

func TestOrderHandlersListPagination(t *testing.T) {
	app := newTestApp(t)
	buyCredits(t, app, "user-1", 200)
	placeVTSOrder(t, app, "user-1")
	placeVTSOrder(t, app, "user-1")
	placeVTSOrder(t, app, "user-1")

	rr := app.do(t, http.MethodGet, "/api/v1/orders?pageSize=2", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	first := decodeBody[orderListBody](t, rr)
	if len(first.Items) != 2 || first.NextPageToken == "" {
		t.Fatalf("expected first page of two with a token, got %+v", first)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/orders?pageSize=2&pageToken="+first.NextPageToken, "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	second := decodeBody[orderListBody](t, rr)
	if len(second.Items) != 1 || second.NextPageToken != "" {
		t.Fatalf("expected final page of one, got %+v", second)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/orders?pageSize=abc", "user-1", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestOrderHandlersCheckoutMiddleware(t *testing.T) {
	app := newTestApp(t)
	calls := 0
	counter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}
	app.router = NewRouter(
		WithMiddlewares(withTestIdentity),
		WithOrderRoutes(NewOrderHandlers(nil, app.orders, WithCheckoutMiddlewares(counter)).Routes),
	)

	app.do(t, http.MethodGet, "/api/v1/orders", "user-1", nil)
	app.do(t, http.MethodPost, "/api/v1/orders", "user-1", `{"paymentMethod":"credits","items":[]}`)
	if calls != 1 {
		t.Fatalf("expected checkout middleware on POST only, got %d calls", calls)
	}
}

func TestUserProductHandlersLifecycle(t *testing.T) {
	app := newTestApp(t)
	buyCredits(t, app, "user-1", 100)
	placeVTSOrder(t, app, "user-1")

	rr := app.do(t, http.MethodGet, "/api/v1/user-products", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	list := decodeBody[struct {
		Items []userProductPayload `json:"items"`
	}](t, rr)
	if len(list.Items) != 1 || list.Items[0].Status != "active" || list.Items[0].ExpiryDate == nil {
		t.Fatalf("unexpected entitlements %+v", list.Items)
	}
	id := list.Items[0].ID

	rr = app.do(t, http.MethodGet, "/api/v1/user-products/"+id, "user-2", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = app.do(t, http.MethodPost, "/api/v1/user-products/"+id+":cancel", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if up := decodeBody[userProductPayload](t, rr); up.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", up.Status)
	}

	rr = app.do(t, http.MethodPost, "/api/v1/user-products/"+id+":cancel", "user-1", nil)
	expectStatus(t, rr, http.StatusConflict)
	if body := decodeBody[errorBody](t, rr); body.Error != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", body.Error)
	}
}

func TestCreditHandlers(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(t, http.MethodPost, "/api/v1/credits/purchase", "user-1", `{"amount":150,"description":"Top up"}`)
	expectStatus(t, rr, http.StatusCreated)
	result := decodeBody[struct {
		Transaction creditTransactionPayload `json:"transaction"`
		NewBalance  int                      `json:"newBalance"`
	}](t, rr)
	if result.NewBalance != 150 || result.Transaction.Amount != 150 || result.Transaction.Description != "Top up" {
		t.Fatalf("unexpected purchase result %+v", result)
	}

	rr = app.do(t, http.MethodPost, "/api/v1/credits/purchase", "user-1", `{"amount":0}`)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = app.do(t, http.MethodGet, "/api/v1/credits/transactions", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	txns := decodeBody[struct {
		Items []creditTransactionPayload `json:"items"`
	}](t, rr)
	if len(txns.Items) != 1 || !strings.HasPrefix(txns.Items[0].ID, "ctx_") {
		t.Fatalf("unexpected transactions %+v", txns.Items)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/credits/balance", "", nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminHandlers(t *testing.T) {
	app := newTestApp(t)
	buyCredits(t, app, "user-1", 100)
	placeVTSOrder(t, app, "user-1")

	rr := app.do(t, http.MethodPost, "/api/v1/admin/alerts:sweep-expiring", "staff-1", nil)
	expectStatus(t, rr, http.StatusOK)
	sweep := decodeBody[struct {
		Created int `json:"created"`
	}](t, rr)
	if sweep.Created != 1 {
		t.Fatalf("expected one expiry alert, got %d", sweep.Created)
	}

	rr = app.do(t, http.MethodPost, "/api/v1/admin/alerts:sweep-expiring", "staff-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if again := decodeBody[struct {
		Created int `json:"created"`
	}](t, rr); again.Created != 0 {
		t.Fatalf("expected repeated sweep to be deduplicated, got %d", again.Created)
	}

	products, err := app.userProducts.ListUserProducts(context.Background(), "user-1")
	if err != nil || len(products) != 1 {
		t.Fatalf("ListUserProducts: %v %+v", err, products)
	}
	rr = app.do(t, http.MethodPost, "/api/v1/admin/users/user-1/user-products/"+products[0].ID+":suspend", "staff-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if up := decodeBody[userProductPayload](t, rr); up.Status != "suspended" {
		t.Fatalf("expected suspended, got %s", up.Status)
	}
}

func TestOrderHandlersInvestigationBecomesRFI(t *testing.T) {
	app := newTestApp(t)
	buyCredits(t, app, "user-1", 300)

	rr := app.do(t, http.MethodPost, "/api/v1/orders", "user-1",
		`{"paymentMethod":"credits","items":[{"productId":"prod-investigation","quantity":1,"configurationDetails":{"type":"INVESTIGATION","investigationType":"ownership","region":"Baltic Sea"}}]}`)
	expectStatus(t, rr, http.StatusCreated)

	rr = app.do(t, http.MethodGet, "/api/v1/user-products", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	products := decodeBody[struct {
		Items []userProductPayload `json:"items"`
	}](t, rr)
	if len(products.Items) != 0 {
		t.Fatalf("expected no entitlement for an investigation, got %+v", products.Items)
	}

	rr = app.do(t, http.MethodGet, "/api/v1/rfis", "user-1", nil)
	expectStatus(t, rr, http.StatusOK)
	rfis := decodeBody[struct {
		Items []rfiPayload `json:"items"`
	}](t, rr)
	if len(rfis.Items) != 1 || rfis.Items[0].Status != "submitted" || rfis.Items[0].TargetArea != "Baltic Sea" {
		t.Fatalf("expected submitted rfi from checkout, got %+v", rfis.Items)
	}
}
