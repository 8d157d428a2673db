package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/platform/textutil"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	orderEventCompleted = "order.completed"

	orderIDPrefix       = "ord_"
	userProductIDPrefix = "up_"

	maxOrderLines       = 100
	orderAlertSource    = "orders"
	orderConfirmedTitle = "Order confirmed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderEmpty indicates an order request without items.
	ErrOrderEmpty = errors.New("order: order must contain at least one item")
	// ErrOrderProductNotFound indicates an order line references an unknown product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate order or entitlement identifier.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentDeclined indicates the payment gateway refused the charge.
	ErrOrderPaymentDeclined = errors.New("order: payment declined")
	// ErrOrderUnavailable indicates persistence or a payment rail could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Catalog  CatalogService
	Registry ConfigurationRegistry
	Pricing  PricingEngine
	Credits  CreditService
	Payments PaymentAuthorizer
	// Carts is cleared after checkouts that originate from the cart. Optional.
	Carts CartService
	// Alerts receives the order confirmation notification. Optional.
	Alerts AlertService
	// RFIs opens the request for investigation lines. Orders containing investigations fail
	// without it.
	RFIs        RFIService
	Events      OrderEventPublisher
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type orderService struct {
	orders   repositories.OrderRepository
	catalog  CatalogService
	registry ConfigurationRegistry
	pricing  PricingEngine
	credits  CreditService
	payments PaymentAuthorizer
	carts    CartService
	alerts   AlertService
	rfis     RFIService
	events   OrderEventPublisher
	currency string
	clock    func() time.Time
	newID    func() string
	logger   Logger
	tracer   trace.Tracer

	ordersCreated metric.Int64Counter
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog service is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("order service: configuration registry is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Credits == nil {
		return nil, errors.New("order service: credit service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("storefront/services")
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("storefront/services")
	}
	created, err := meter.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders completed by payment method"))
	if err != nil {
		return nil, fmt.Errorf("order service: orders counter: %w", err)
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCartCurrency
	}

	return &orderService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		registry: deps.Registry,
		pricing:  deps.Pricing,
		credits:  deps.Credits,
		payments: deps.Payments,
		carts:    deps.Carts,
		alerts:   deps.Alerts,
		rfis:     deps.RFIs,
		events:   deps.Events,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		logger:        logger,
		tracer:        tracer,
		ordersCreated: created,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("payment.method", string(cmd.PaymentMethod))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	lines := cmd.Items
	if len(lines) == 0 && cmd.FromCart && s.carts != nil {
		lines, err = s.linesFromCart(ctx, userID)
		if err != nil {
			return Order{}, err
		}
	}
	if len(lines) == 0 {
		return Order{}, ErrOrderEmpty
	}
	if len(lines) > maxOrderLines {
		return Order{}, fmt.Errorf("%w: at most %d items per order", ErrOrderInvalidInput, maxOrderLines)
	}

	items := make([]OrderItem, 0, len(lines))
	for idx, line := range lines {
		item, err := s.priceOrderLine(ctx, idx, line)
		if err != nil {
			return Order{}, err
		}
		items = append(items, item)
	}
	if s.rfis == nil && containsInvestigation(items) {
		return Order{}, fmt.Errorf("%w: investigation requests are not configured", ErrOrderUnavailable)
	}

	now := s.clock()
	order = Order{
		ID:             newID(s.newID, orderIDPrefix),
		UserID:         userID,
		Items:          items,
		Currency:       s.currency,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentDetails: textutil.RedactPaymentDetails(textutil.NormalizeStringMap(cmd.PaymentDetails)),
		Status:         domain.OrderStatusCompleted,
		PurchaseDate:   now,
	}
	order.TotalAmount, order.TotalCredits = orderTotals(items)
	span.SetAttributes(attribute.String("order.id", order.ID))

	spent, err := s.collectPayment(ctx, &order, cmd.PaymentDetails)
	if err != nil {
		return Order{}, err
	}

	requests, err := s.openInvestigations(ctx, order)
	if err != nil {
		s.rollback(ctx, order, spent, requests)
		return Order{}, err
	}

	entitlements := buildEntitlements(order, func() string { return newID(s.newID, userProductIDPrefix) })
	if err := s.orders.Insert(ctx, order, entitlements); err != nil {
		s.rollback(ctx, order, spent, requests)
		return Order{}, s.mapRepositoryError(err)
	}

	s.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(order.PaymentMethod))))
	s.logger(ctx, "order.completed", map[string]any{
		"orderId":       order.ID,
		"userId":        userID,
		"items":         len(order.Items),
		"paymentMethod": string(order.PaymentMethod),
		"totalAmount":   order.TotalAmount.StringFixed(2),
		"totalCredits":  order.TotalCredits,
		"rfis":          len(requests),
	})

	if cmd.FromCart {
		s.clearCart(ctx, userID)
	}
	s.publishEvent(ctx, order)
	s.notifyConfirmed(ctx, order)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	if page.Items == nil {
		page.Items = []Order{}
	}
	return page, nil
}

// priceOrderLine recomputes the authoritative price for one requested line. Client supplied
// prices are ignored.
func (s *orderService) priceOrderLine(ctx context.Context, idx int, line OrderLineInput) (OrderItem, error) {
	if line.Quantity < 1 || line.Quantity > maxCartItemQuantity {
		return OrderItem{}, fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrOrderInvalidInput, idx, maxCartItemQuantity)
	}
	productID := strings.TrimSpace(line.ProductID)
	if productID == "" {
		return OrderItem{}, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, idx)
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogProductNotFound) {
			return OrderItem{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
		}
		return OrderItem{}, err
	}

	var config *ProductConfiguration
	if len(line.Configuration) > 0 && string(line.Configuration) != "null" {
		parsed, err := s.registry.ValidateConfiguration(product.Type, line.Configuration)
		if err != nil {
			return OrderItem{}, err
		}
		config = &parsed
	}
	config, err = s.registry.ValidateForProduct(product, config)
	if err != nil {
		return OrderItem{}, err
	}
	quote, err := s.pricing.Price(product, config)
	if err != nil {
		return OrderItem{}, fmt.Errorf("%w: items[%d]: %v", ErrOrderInvalidInput, idx, err)
	}
	if line.ClientUnitPrice != nil && !line.ClientUnitPrice.Equal(quote.Price) {
		s.logger(ctx, "order.client_price_replaced", map[string]any{
			"productId":   productID,
			"clientPrice": line.ClientUnitPrice.String(),
			"serverPrice": quote.Price.StringFixed(2),
		})
	}

	qty := decimal.NewFromInt(int64(line.Quantity))
	return OrderItem{
		ProductID:      product.ID,
		Name:           product.Name,
		Type:           product.Type,
		Quantity:       line.Quantity,
		UnitPrice:      quote.Price,
		UnitCreditCost: quote.CreditCost,
		LineTotal:      quote.Price.Mul(qty),
		LineCredits:    quote.CreditCost * line.Quantity,
		Configuration:  config,
	}, nil
}

// collectPayment charges the selected rail. It returns the credits debited so callers can
// compensate when persistence fails afterwards.
func (s *orderService) collectPayment(ctx context.Context, order *Order, details map[string]string) (int, error) {
	switch order.PaymentMethod {
	case domain.PaymentMethodCredits:
		if order.TotalCredits == 0 {
			return 0, nil
		}
		txn, err := s.credits.Spend(ctx, SpendCreditsCommand{
			UserID:      order.UserID,
			Amount:      order.TotalCredits,
			OrderID:     order.ID,
			Description: fmt.Sprintf("Order %s", order.ID),
		})
		if err != nil {
			if errors.Is(err, ErrInsufficientCredits) {
				return 0, err
			}
			if errors.Is(err, ErrCreditUnavailable) {
				return 0, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
			}
			return 0, fmt.Errorf("order: debit credits: %w", err)
		}
		order.PaymentReference = txn.ID
		return order.TotalCredits, nil
	default:
		if s.payments == nil {
			return 0, fmt.Errorf("%w: payment method %s is not configured", ErrOrderUnavailable, order.PaymentMethod)
		}
		result, err := s.payments.Authorize(ctx, PaymentAuthorization{
			Method:   order.PaymentMethod,
			OrderID:  order.ID,
			UserID:   order.UserID,
			Amount:   order.TotalAmount,
			Currency: order.Currency,
			Details:  textutil.NormalizeStringMap(details),
		})
		if err != nil {
			return 0, fmt.Errorf("%w: authorize payment: %v", ErrOrderUnavailable, err)
		}
		if !result.Approved {
			return 0, ErrOrderPaymentDeclined
		}
		order.PaymentReference = result.Reference
		return 0, nil
	}
}

// openInvestigations files one RFI per investigation line. RFIs created before a failure are
// returned so the caller can withdraw them.
func (s *orderService) openInvestigations(ctx context.Context, order Order) ([]RFI, error) {
	var opened []RFI
	for _, item := range order.Items {
		if item.Type != domain.ProductTypeInvestigation {
			continue
		}
		rfi, err := s.rfis.CreateRFI(ctx, investigationRequest(order, item))
		if err != nil {
			switch {
			case errors.Is(err, ErrRFIInvalidInput):
				return opened, fmt.Errorf("%w: %s: %v", ErrOrderInvalidInput, item.ProductID, err)
			case errors.Is(err, ErrRFIUnavailable):
				return opened, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
			default:
				return opened, fmt.Errorf("order: open investigation: %w", err)
			}
		}
		opened = append(opened, rfi)
	}
	return opened, nil
}

// rollback undoes the side effects of a checkout that could not be persisted.
func (s *orderService) rollback(ctx context.Context, order Order, spent int, requests []RFI) {
	if spent > 0 {
		s.compensateCredits(ctx, order, spent)
	}
	for _, rfi := range requests {
		if _, err := s.rfis.CancelRFI(ctx, order.UserID, rfi.ID); err != nil {
			s.logger(ctx, "order.rfi_withdraw.failed", map[string]any{
				"orderId": order.ID,
				"rfiId":   rfi.ID,
				"error":   err.Error(),
			})
		}
	}
}

func (s *orderService) compensateCredits(ctx context.Context, order Order, amount int) {
	if _, err := s.credits.Refund(ctx, RefundCreditsCommand{
		UserID:      order.UserID,
		Amount:      amount,
		OrderID:     order.ID,
		Description: fmt.Sprintf("Refund for failed order %s", order.ID),
	}); err != nil {
		s.logger(ctx, "order.compensation.failed", map[string]any{
			"orderId": order.ID,
			"userId":  order.UserID,
			"amount":  amount,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order.compensated", map[string]any{
		"orderId": order.ID,
		"userId":  order.UserID,
		"amount":  amount,
	})
}

func (s *orderService) linesFromCart(ctx context.Context, userID string) ([]OrderLineInput, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("order: load cart: %w", err)
	}
	lines := make([]OrderLineInput, 0, len(cart.Items))
	for _, item := range cart.Items {
		line := OrderLineInput{ProductID: item.Product.ID, Quantity: item.Quantity}
		if item.Configuration != nil {
			raw, err := item.Configuration.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("order: encode cart configuration: %w", err)
			}
			line.Configuration = raw
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *orderService) clearCart(ctx context.Context, userID string) {
	if s.carts == nil {
		return
	}
	if _, err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger(ctx, "order.cart_clear.failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	event := OrderEvent{
		Type:          orderEventCompleted,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		TotalAmount:   order.TotalAmount.StringFixed(2),
		TotalCredits:  order.TotalCredits,
		ProductIDs:    productIDs,
		OccurredAt:    order.PurchaseDate,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

func (s *orderService) notifyConfirmed(ctx context.Context, order Order) {
	if s.alerts == nil {
		return
	}
	message := fmt.Sprintf("Your order %s with %d item(s) is complete.", order.ID, len(order.Items))
	if _, err := s.alerts.CreateAlert(ctx, CreateAlertCommand{
		UserID:    order.UserID,
		Title:     orderConfirmedTitle,
		Message:   message,
		Severity:  domain.AlertSeverityInfo,
		Source:    orderAlertSource,
		SourceKey: "order:" + order.ID,
	}); err != nil {
		s.logger(ctx, "order.alert.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func orderTotals(items []OrderItem) (decimal.Decimal, int) {
	amount := decimal.Zero
	credits := 0
	for _, item := range items {
		amount = amount.Add(item.LineTotal)
		credits += item.LineCredits
	}
	return amount, credits
}

// buildEntitlements materialises one active entitlement per order line. Investigations are
// fulfilled through an RFI and get none.
func buildEntitlements(order Order, nextID func() string) []UserProduct {
	out := make([]UserProduct, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Type == domain.ProductTypeInvestigation {
			continue
		}
		activation := order.PurchaseDate
		expiry := domain.EntitlementExpiry(order.PurchaseDate, item.Configuration)
		out = append(out, UserProduct{
			ID:             nextID(),
			OrderID:        order.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Type:           item.Type,
			UserID:         order.UserID,
			PurchaseDate:   order.PurchaseDate,
			ActivationDate: &activation,
			ExpiryDate:     &expiry,
			Status:         domain.UserProductStatusActive,
			Configuration:  item.Configuration.Clone(),
		})
	}
	return out
}

func containsInvestigation(items []OrderItem) bool {
	for _, item := range items {
		if item.Type == domain.ProductTypeInvestigation {
			return true
		}
	}
	return false
}

func investigationRequest(order Order, item OrderItem) CreateRFICommand {
	var inv domain.InvestigationConfiguration
	if item.Configuration != nil && item.Configuration.Investigation != nil {
		inv = *item.Configuration.Investigation
	}

	cmd := CreateRFICommand{
		UserID:            order.UserID,
		Title:             item.Name,
		TargetArea:        strings.TrimSpace(inv.Region),
		AdditionalDetails: inv.AdditionalInfo,
	}
	if kind := strings.TrimSpace(inv.InvestigationType); kind != "" {
		cmd.Title = item.Name + ": " + kind
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requested with order %s", order.ID)
	if item.Quantity > 1 {
		fmt.Fprintf(&b, " (quantity %d)", item.Quantity)
	}
	b.WriteString(".")
	if inv.VesselIMO != "" {
		fmt.Fprintf(&b, "\nVessel IMO: %s", inv.VesselIMO)
	}
	if cmd.TargetArea != "" {
		fmt.Fprintf(&b, "\nRegion: %s", cmd.TargetArea)
	}
	cmd.Description = b.String()

	if tf := inv.Timeframe; tf != nil {
		start, startErr := time.Parse(isoDateLayout, tf.Start)
		end, endErr := time.Parse(isoDateLayout, tf.End)
		if startErr == nil && endErr == nil {
			cmd.DateRange = &DateRange{Start: start, End: end}
		}
	}
	return cmd
}
