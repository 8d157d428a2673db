package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/requestctx"
	"github.com/tidewatch/storefront/internal/repositories/memory"
	"github.com/tidewatch/storefront/internal/services"
)

const testUserHeader = "X-Test-User"

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// withTestIdentity stands in for the Firebase authenticator: the uid comes from a header and
// staff is granted when the uid starts with "staff".
func withTestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(testUserHeader))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		roles := []string{auth.RoleUser}
		if strings.HasPrefix(uid, "staff") {
			roles = append(roles, auth.RoleStaff)
		}
		ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles})
		ctx = requestctx.WithUserID(ctx, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type testApp struct {
	router       chi.Router
	catalog      services.CatalogService
	registry     services.ConfigurationRegistry
	pricing      services.PricingEngine
	carts        services.CartService
	credits      services.CreditService
	orders       services.OrderService
	userProducts services.UserProductService
	rfis         services.RFIService
	alerts       services.AlertService
}

func sequence(prefix string) func() string {
	var (
		mu  sync.Mutex
		seq int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("%s%03d", prefix, seq)
	}
}

func must[T any](value T, err error) func(t *testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		return value
	}
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	catalogRepo := must(memory.NewCatalogRepositoryFromYAML(memory.DefaultCatalogSeed()))(t)
	orderRepo, userProductRepo := memory.NewOrderRepositories()
	alertRepo := memory.NewAlertRepository()

	app := &testApp{pricing: services.NewPricingEngine()}
	app.catalog = must(services.NewCatalogService(services.CatalogServiceDeps{Catalog: catalogRepo}))(t)
	app.registry = must(services.NewConfigurationRegistry(services.ConfigurationRegistryDeps{Clock: fixedClock}))(t)
	app.carts = must(services.NewCartService(services.CartServiceDeps{
		Carts:       memory.NewCartRepository(),
		Catalog:     app.catalog,
		Registry:    app.registry,
		Pricing:     app.pricing,
		Clock:       fixedClock,
		IDGenerator: sequence("item_"),
	}))(t)
	app.credits = must(services.NewCreditService(services.CreditServiceDeps{
		Credits:     memory.NewCreditRepository(),
		Clock:       fixedClock,
		IDGenerator: sequence("ctx_"),
	}))(t)
	app.alerts = must(services.NewAlertService(services.AlertServiceDeps{
		Alerts:       alertRepo,
		UserProducts: userProductRepo,
		Clock:        fixedClock,
		IDGenerator:  sequence("alr_"),
	}))(t)
	app.rfis = must(services.NewRFIService(services.RFIServiceDeps{
		RFIs:        memory.NewRFIRepository(),
		Clock:       fixedClock,
		IDGenerator: sequence("rfi_"),
	}))(t)
	app.orders = must(services.NewOrderService(services.OrderServiceDeps{
		Orders:      orderRepo,
		Catalog:     app.catalog,
		Registry:    app.registry,
		Pricing:     app.pricing,
		Credits:     app.credits,
		Carts:       app.carts,
		Alerts:      app.alerts,
		RFIs:        app.rfis,
		Clock:       fixedClock,
		IDGenerator: sequence(""),
	}))(t)
	app.userProducts = must(services.NewUserProductService(services.UserProductServiceDeps{
		UserProducts: userProductRepo,
		Clock:        fixedClock,
	}))(t)

	app.router = NewRouter(
		WithMiddlewares(withTestIdentity),
		WithProductRoutes(NewCatalogHandlers(app.catalog, app.registry, app.pricing).Routes),
		WithCartRoutes(NewCartHandlers(nil, app.carts).Routes),
		WithOrderRoutes(NewOrderHandlers(nil, app.orders).Routes),
		WithUserProductRoutes(NewUserProductHandlers(nil, app.userProducts).Routes),
		WithCreditRoutes(NewCreditHandlers(nil, app.credits).Routes),
		WithRFIRoutes(NewRFIHandlers(nil, app.rfis).Routes),
		WithAlertRoutes(NewAlertHandlers(nil, app.alerts).Routes),
		WithAdminRoutes(NewAdminHandlers(nil, app.alerts, app.userProducts,
			WithExpiryWindow(100*24*time.Hour),
			WithAdminClock(fixedClock),
		).Routes),
	)
	return app
}

func (a *testApp) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Fields []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

const vtsConfigJSON = `{"type":"VTS","trackingDurationDays":72,"selectedCriteria":["AIS gaps"],"vesselIMOs":["9074729"]}`
