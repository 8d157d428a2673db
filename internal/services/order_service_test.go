package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/platform/locks"
	"github.com/tidewatch/storefront/internal/repositories/memory"
)

type orderFixture struct {
	svc          OrderService
	orders       *faultyOrderRepository
	userProducts *memory.UserProductRepository
	ledger       *memory.CreditRepository
	credits      CreditService
	carts        CartService
	alerts       *memory.AlertRepository
	rfis         RFIService
	events       *captureOrderEvents
	payments     *stubPaymentAuthorizer
	logs         []string
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	return newOrderFixtureWithLocker(t, &countingLocker{})
}

func newOrderFixtureWithLocker(t *testing.T, locker Locker) *orderFixture {
	t.Helper()
	orders, userProducts := memory.NewOrderRepositories()
	fx := &orderFixture{
		orders:       &faultyOrderRepository{OrderRepository: orders},
		userProducts: userProducts,
		ledger:       memory.NewCreditRepository(),
		alerts:       memory.NewAlertRepository(),
		events:       &captureOrderEvents{},
		payments:     &stubPaymentAuthorizer{},
	}

	catalog := newTestCatalog(t)
	registry := newTestRegistry(t)
	credits, err := NewCreditService(CreditServiceDeps{
		Credits:     fx.ledger,
		Locker:      locker,
		Clock:       fixedClock,
		IDGenerator: sequenceIDs("txn"),
	})
	if err != nil {
		t.Fatalf("NewCreditService: %v", err)
	}
	fx.credits = credits

	carts, err := NewCartService(CartServiceDeps{
		Carts:    memory.NewCartRepository(),
		Catalog:  catalog,
		Registry: registry,
		Pricing:  NewPricingEngine(),
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	fx.carts = carts

	alerts, err := NewAlertService(AlertServiceDeps{Alerts: fx.alerts, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewAlertService: %v", err)
	}
	fx.rfis, err = NewRFIService(RFIServiceDeps{
		RFIs:        memory.NewRFIRepository(),
		Clock:       fixedClock,
		IDGenerator: sequenceIDs(""),
	})
	if err != nil {
		t.Fatalf("NewRFIService: %v", err)
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      fx.orders,
		Catalog:     catalog,
		Registry:    registry,
		Pricing:     NewPricingEngine(),
		Credits:     credits,
		Payments:    fx.payments,
		Carts:       carts,
		Alerts:      alerts,
		RFIs:        fx.rfis,
		Events:      fx.events,
		Clock:       fixedClock,
		IDGenerator: sequenceIDs(""),
		Logger:      captureLogger(&fx.logs),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *orderFixture) grant(t *testing.T, userID string, amount int) {
	t.Helper()
	if _, err := fx.credits.PurchaseCredits(context.Background(), PurchaseCreditsCommand{UserID: userID, Amount: amount}); err != nil {
		t.Fatalf("PurchaseCredits: %v", err)
	}
}

func (fx *orderFixture) balance(t *testing.T, userID string) int {
	t.Helper()
	account, err := fx.credits.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return account.Balance
}

func (fx *orderFixture) assertLedgerAgrees(t *testing.T, userID string) {
	t.Helper()
	txns, err := fx.credits.ListTransactions(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	sum := 0
	for _, txn := range txns {
		sum += txn.Amount
	}
	if got := fx.balance(t, userID); got != sum {
		t.Fatalf("balance %d does not match ledger sum %d", got, sum)
	}
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestOrderServiceCreateOrderWithCredits(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 100)

	clientPrice := decimal.RequireFromString("1.00")
	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items: []OrderLineInput{{
			ProductID:       "prod-vts-standard",
			Quantity:        1,
			Configuration:   json.RawMessage(vtsTrackingJSON),
			ClientUnitPrice: &clientPrice,
		}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "ord_001" || order.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected order header %+v", order)
	}
	if !order.PurchaseDate.Equal(testNow) {
		t.Fatalf("expected purchase date %s, got %s", testNow, order.PurchaseDate)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("479.98")) || order.TotalCredits != 48 {
		t.Fatalf("expected server side totals 479.98/48, got %s/%d", order.TotalAmount, order.TotalCredits)
	}
	if order.PaymentReference == "" {
		t.Fatalf("expected ledger reference on order")
	}
	if got := fx.balance(t, "user-1"); got != 52 {
		t.Fatalf("expected balance 52, got %d", got)
	}
	fx.assertLedgerAgrees(t, "user-1")

	entitlements, err := fx.userProducts.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(entitlements) != 1 {
		t.Fatalf("expected one entitlement, got %d", len(entitlements))
	}
	up := entitlements[0]
	if up.OrderID != order.ID || up.Status != domain.UserProductStatusActive || up.ID != "up_002" {
		t.Fatalf("unexpected entitlement %+v", up)
	}
	if up.ExpiryDate == nil || !up.ExpiryDate.Equal(testNow.AddDate(0, 0, 72)) {
		t.Fatalf("expected expiry after 72 days, got %v", up.ExpiryDate)
	}
	if up.ActivationDate == nil || !up.ActivationDate.Equal(testNow) {
		t.Fatalf("expected activation at purchase, got %v", up.ActivationDate)
	}

	if len(fx.events.events) != 1 || fx.events.events[0].Type != "order.completed" || fx.events.events[0].TotalAmount != "479.98" {
		t.Fatalf("unexpected events %+v", fx.events.events)
	}
	alerts, _ := fx.alerts.ListByUser(ctx, "user-1", true)
	if len(alerts) != 1 || alerts[0].Title != "Order confirmed" {
		t.Fatalf("expected confirmation alert, got %+v", alerts)
	}
	replaced := false
	for _, entry := range fx.logs {
		if entry == "order.client_price_replaced" {
			replaced = true
		}
	}
	if !replaced {
		t.Fatalf("expected client price replacement to be logged, got %v", fx.logs)
	}
}

func TestOrderServiceInsufficientCredits(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 100)

	_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items:         []OrderLineInput{{ProductID: "prod-ams-coastal", Quantity: 3}},
	})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if got := fx.balance(t, "user-1"); got != 100 {
		t.Fatalf("balance must be unchanged, got %d", got)
	}
	if fx.orders.inserts != 0 {
		t.Fatalf("no order may be persisted")
	}
	page, _ := fx.svc.ListOrders(ctx, "user-1", Pagination{})
	if len(page.Items) != 0 {
		t.Fatalf("expected no orders, got %d", len(page.Items))
	}
}

func TestOrderServiceCompensatesWhenPersistenceFails(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 100)
	fx.orders.insertErr = &repositoryErrorStub{msg: "firestore unavailable", unavailable: true}

	_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items:         []OrderLineInput{{ProductID: "prod-ams-coastal", Quantity: 2}},
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := fx.balance(t, "user-1"); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}
	fx.assertLedgerAgrees(t, "user-1")

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 0 {
		t.Fatalf("expected no entitlements, got %d", len(entitlements))
	}
	if len(fx.events.events) != 0 {
		t.Fatalf("no event may be published for a failed order")
	}
}

func TestOrderServiceValidatesRequest(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{UserID: "user-1", PaymentMethod: domain.PaymentMethodCredits}); !errors.Is(err, ErrOrderEmpty) {
		t.Fatalf("expected empty order, got %v", err)
	}
	_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items:         []OrderLineInput{{ProductID: "prod-unknown", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	_, err = fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items:         []OrderLineInput{{ProductID: "prod-ams-coastal", Quantity: 0}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	_, err = fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: "bitcoin",
		Items:         []OrderLineInput{{ProductID: "prod-ams-coastal", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid payment method, got %v", err)
	}
	_, err = fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodStripe,
		Items: []OrderLineInput{{
			ProductID:     "prod-maritime-alert",
			Quantity:      1,
			Configuration: json.RawMessage(`{"type":"MARITIME_ALERT","maritimeAlertType":"SHIP","selectedCriteria":[]}`),
		}},
	})
	if !errors.Is(err, ErrConfigurationInvalid) {
		t.Fatalf("expected configuration error for SHIP alert without vessels, got %v", err)
	}
}

func TestOrderServiceStripeUsesGateway(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:         "user-1",
		PaymentMethod:  domain.PaymentMethodStripe,
		PaymentDetails: map[string]string{" cardNumber ": "4242424242424242 "},
		Items: []OrderLineInput{{
			ProductID:     "prod-maritime-alert",
			Quantity:      2,
			Configuration: json.RawMessage(`{"type":"MARITIME_ALERT","maritimeAlertType":"SHIP","selectedCriteria":[],"vesselIMOs":["9074729"],"monitoringDurationDays":45}`),
		}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(fx.payments.requests) != 1 || !fx.payments.requests[0].Amount.Equal(decimal.RequireFromString("237")) {
		t.Fatalf("expected gateway charge of 237.00, got %+v", fx.payments.requests)
	}
	if order.PaymentReference != "pay_"+order.ID {
		t.Fatalf("expected gateway reference, got %q", order.PaymentReference)
	}
	if order.PaymentDetails["cardNumber"] != "************4242" {
		t.Fatalf("expected redacted card number, got %+v", order.PaymentDetails)
	}

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 1 || !entitlements[0].ExpiryDate.Equal(testNow.AddDate(0, 0, 45)) {
		t.Fatalf("expected 45 day expiry, got %+v", entitlements)
	}
	if got := fx.balance(t, "user-1"); got != 0 {
		t.Fatalf("gateway orders must not touch credits, got %d", got)
	}
}

func TestOrderServiceDeclinedPayment(t *testing.T) {
	fx := newOrderFixture(t)
	fx.payments.authorizeFunc = func(context.Context, PaymentAuthorization) (PaymentAuthorizationResult, error) {
		return PaymentAuthorizationResult{Approved: false}, nil
	}

	_, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodPayPal,
		Items:         []OrderLineInput{{ProductID: "prod-investigation", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderPaymentDeclined) {
		t.Fatalf("expected declined payment, got %v", err)
	}
	if fx.orders.inserts != 0 {
		t.Fatalf("declined payments must not persist orders")
	}
}

func TestOrderServiceFromCartClearsCart(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 100)

	if _, err := fx.carts.AddItem(ctx, AddCartItemCommand{
		UserID:        "user-1",
		ProductID:     "prod-vts-standard",
		Configuration: json.RawMessage(vtsTrackingJSON),
	}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		FromCart:      true,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.TotalCredits != 48 || len(order.Items) != 1 {
		t.Fatalf("expected order built from cart, got %+v", order)
	}
	cart, err := fx.carts.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected cart cleared, got %d items", len(cart.Items))
	}
}

func TestOrderServiceGetAndListOrders(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodStripe,
		Items:         []OrderLineInput{{ProductID: "prod-report-compliance", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	got, err := fx.svc.GetOrder(ctx, "user-1", order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("expected %s, got %s", order.ID, got.ID)
	}
	if _, err := fx.svc.GetOrder(ctx, "user-2", order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("orders of other users must be hidden, got %v", err)
	}
	if _, err := fx.svc.GetOrder(ctx, "user-1", "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	page, err := fx.svc.ListOrders(ctx, "user-1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestOrderServiceEventFailureIsNotFatal(t *testing.T) {
	fx := newOrderFixture(t)
	fx.events.err = errors.New("broker down")

	if _, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodStripe,
		Items:         []OrderLineInput{{ProductID: "prod-investigation", Quantity: 1}},
	}); err != nil {
		t.Fatalf("publish failures must not fail the order: %v", err)
	}
	logged := false
	for _, entry := range fx.logs {
		if entry == "order.event.publish.failed" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected publish failure to be logged")
	}
}

const investigationJSON = `{"type":"INVESTIGATION","investigationType":"sanctions","vesselIMO":"9074729","region":"Gulf of Guinea","timeframe":{"start":"2025-05-01","end":"2025-05-31"},"additionalInfo":"Check STS partners"}`

func TestOrderServiceVTSScenarioDebitsTwentyCredits(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 100)

	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items: []OrderLineInput{{
			ProductID:     "prod-vts-standard",
			Quantity:      1,
			Configuration: json.RawMessage(`{"type":"VTS","trackingDurationDays":30,"selectedCriteria":["AIS gaps"],"vesselIMOs":["9074729"]}`),
		}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted || order.TotalCredits != 20 {
		t.Fatalf("expected completed order for 20 credits, got %s/%d", order.Status, order.TotalCredits)
	}
	if got := fx.balance(t, "user-1"); got != 80 {
		t.Fatalf("expected balance 80, got %d", got)
	}
	fx.assertLedgerAgrees(t, "user-1")

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 1 || entitlements[0].Status != domain.UserProductStatusActive {
		t.Fatalf("expected one active entitlement, got %+v", entitlements)
	}
}

func TestOrderServiceEntitlementExpiryFollowsDuration(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodStripe,
		Items: []OrderLineInput{
			{
				ProductID:     "prod-vts-standard",
				Quantity:      1,
				Configuration: json.RawMessage(`{"type":"VTS","trackingDurationDays":45,"selectedCriteria":["AIS gaps"],"vesselIMOs":["9074729"]}`),
			},
			{ProductID: "prod-ams-coastal", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 2 {
		t.Fatalf("expected two entitlements, got %d", len(entitlements))
	}
	want := map[string]int{"prod-vts-standard": 45, "prod-ams-coastal": 30}
	for _, up := range entitlements {
		days, ok := want[up.ProductID]
		if !ok {
			t.Fatalf("unexpected entitlement %+v", up)
		}
		if up.ExpiryDate == nil || !up.ExpiryDate.Equal(up.PurchaseDate.AddDate(0, 0, days)) {
			t.Fatalf("%s: expected expiry %d days after purchase, got %v", up.ProductID, days, up.ExpiryDate)
		}
	}
}

func TestOrderServiceInvestigationOpensRFI(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 300)

	order, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items: []OrderLineInput{{
			ProductID:     "prod-investigation",
			Quantity:      1,
			Configuration: json.RawMessage(investigationJSON),
		}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.TotalCredits != 250 || fx.balance(t, "user-1") != 50 {
		t.Fatalf("expected 250 credits debited, got order %d balance %d", order.TotalCredits, fx.balance(t, "user-1"))
	}

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 0 {
		t.Fatalf("investigations must not create entitlements, got %+v", entitlements)
	}

	rfis, err := fx.rfis.ListRFIs(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListRFIs: %v", err)
	}
	if len(rfis) != 1 {
		t.Fatalf("expected one rfi, got %d", len(rfis))
	}
	rfi := rfis[0]
	if rfi.Status != domain.RFIStatusSubmitted || rfi.Title != "Maritime Investigation: sanctions" {
		t.Fatalf("unexpected rfi %+v", rfi)
	}
	if !strings.Contains(rfi.Description, order.ID) || !strings.Contains(rfi.Description, "Vessel IMO: 9074729") {
		t.Fatalf("expected order and vessel in description, got %q", rfi.Description)
	}
	if rfi.TargetArea != "Gulf of Guinea" || rfi.AdditionalDetails != "Check STS partners" {
		t.Fatalf("unexpected rfi details %+v", rfi)
	}
	if rfi.DateRange == nil || rfi.DateRange.Start.Format("2006-01-02") != "2025-05-01" || rfi.DateRange.End.Format("2006-01-02") != "2025-05-31" {
		t.Fatalf("unexpected date range %+v", rfi.DateRange)
	}
}

func TestOrderServiceMixedOrderSplitsEntitlementsAndRFIs(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodPayPal,
		Items: []OrderLineInput{
			{ProductID: "prod-ams-coastal", Quantity: 1},
			{ProductID: "prod-investigation", Quantity: 2},
		},
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != 1 || entitlements[0].ProductID != "prod-ams-coastal" {
		t.Fatalf("expected only the AMS entitlement, got %+v", entitlements)
	}
	rfis, _ := fx.rfis.ListRFIs(ctx, "user-1")
	if len(rfis) != 1 || !strings.Contains(rfis[0].Description, "(quantity 2)") {
		t.Fatalf("expected one rfi for the investigation line, got %+v", rfis)
	}
}

func TestOrderServiceWithdrawsRFIWhenPersistenceFails(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	fx.grant(t, "user-1", 300)
	fx.orders.insertErr = &repositoryErrorStub{msg: "firestore unavailable", unavailable: true}

	_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items: []OrderLineInput{{
			ProductID:     "prod-investigation",
			Quantity:      1,
			Configuration: json.RawMessage(investigationJSON),
		}},
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := fx.balance(t, "user-1"); got != 300 {
		t.Fatalf("expected balance restored to 300, got %d", got)
	}
	fx.assertLedgerAgrees(t, "user-1")

	rfis, _ := fx.rfis.ListRFIs(ctx, "user-1")
	for _, rfi := range rfis {
		if rfi.Status != domain.RFIStatusCancelled {
			t.Fatalf("expected rfi withdrawn, got %s", rfi.Status)
		}
	}
}

func TestOrderServiceInvestigationRequiresRFIService(t *testing.T) {
	fx := newOrderFixture(t)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   fx.orders,
		Catalog:  newTestCatalog(t),
		Registry: newTestRegistry(t),
		Pricing:  NewPricingEngine(),
		Credits:  fx.credits,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fx.grant(t, "user-1", 300)

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCredits,
		Items:         []OrderLineInput{{ProductID: "prod-investigation", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := fx.balance(t, "user-1"); got != 300 {
		t.Fatalf("nothing may be charged, got balance %d", got)
	}
}

func TestOrderServiceConcurrentCheckoutsNeverOverdraw(t *testing.T) {
	fx := newOrderFixtureWithLocker(t, locks.NewKeyedMutex())
	ctx := context.Background()
	fx.grant(t, "user-1", 100)

	const attempts = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		completed    int
		insufficient int
		unexpected   []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
				UserID:        "user-1",
				PaymentMethod: domain.PaymentMethodCredits,
				Items:         []OrderLineInput{{ProductID: "prod-ams-coastal", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if completed != 2 || insufficient != attempts-2 {
		t.Fatalf("expected 2 completed and %d insufficient, got %d/%d", attempts-2, completed, insufficient)
	}
	if got := fx.balance(t, "user-1"); got != 30 {
		t.Fatalf("expected balance 30, got %d", got)
	}
	fx.assertLedgerAgrees(t, "user-1")

	entitlements, _ := fx.userProducts.ListByUser(ctx, "user-1")
	if len(entitlements) != completed {
		t.Fatalf("expected %d entitlements, got %d", completed, len(entitlements))
	}
}
