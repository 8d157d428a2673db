package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tidewatch/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Product              = domain.Product
	ProductType          = domain.ProductType
	ProductConfiguration = domain.ProductConfiguration
	CatalogFilter        = domain.CatalogFilter
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	PaymentMethod        = domain.PaymentMethod
	UserProduct          = domain.UserProduct
	UserProductStatus    = domain.UserProductStatus
	RFI                  = domain.RFI
	RFIStatus            = domain.RFIStatus
	DateRange            = domain.DateRange
	CreditTransaction    = domain.CreditTransaction
	CreditAccount        = domain.CreditAccount
	Alert                = domain.Alert
	AlertSeverity        = domain.AlertSeverity
	SystemHealthReport   = domain.SystemHealthReport
)

// CatalogService exposes read access to the product catalog.
type CatalogService interface {
	ListProducts(ctx context.Context, filter CatalogFilter) ([]Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// ConfigurationRegistry owns the per-type configuration schemas, defaults and validation.
type ConfigurationRegistry interface {
	DefaultConfiguration(productType ProductType) (ProductConfiguration, error)
	ValidateConfiguration(productType ProductType, candidate json.RawMessage) (ProductConfiguration, error)
	ValidateForProduct(product Product, candidate *ProductConfiguration) (*ProductConfiguration, error)
	FormSchema(productType ProductType) (json.RawMessage, error)
	ParseIMOList(text string) []string
}

// PricingEngine derives configured price and credit cost from a product and configuration.
type PricingEngine interface {
	Price(product Product, config *ProductConfiguration) (PriceQuote, error)
}

// CartService manages the authenticated user's single active cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, userID string, itemID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) (Cart, error)
}

// OrderService turns order requests into priced orders and entitlements.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, userID string, orderID string) (Order, error)
	ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
}

// CreditService exposes the credits ledger.
type CreditService interface {
	GetBalance(ctx context.Context, userID string) (CreditAccount, error)
	ListTransactions(ctx context.Context, userID string) ([]CreditTransaction, error)
	PurchaseCredits(ctx context.Context, cmd PurchaseCreditsCommand) (CreditPurchaseResult, error)
	Spend(ctx context.Context, cmd SpendCreditsCommand) (CreditTransaction, error)
	Refund(ctx context.Context, cmd RefundCreditsCommand) (CreditTransaction, error)
}

// UserProductService exposes entitlements with derived status.
type UserProductService interface {
	ListUserProducts(ctx context.Context, userID string) ([]UserProduct, error)
	GetUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error)
	CancelUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error)
	SuspendUserProduct(ctx context.Context, userID string, userProductID string) (UserProduct, error)
}

// RFIService manages requests for intelligence.
type RFIService interface {
	CreateRFI(ctx context.Context, cmd CreateRFICommand) (RFI, error)
	GetRFI(ctx context.Context, userID string, rfiID string) (RFI, error)
	ListRFIs(ctx context.Context, userID string) ([]RFI, error)
	UpdateRFI(ctx context.Context, cmd UpdateRFICommand) (RFI, error)
	CancelRFI(ctx context.Context, userID string, rfiID string) (RFI, error)
}

// AlertService manages user notifications.
type AlertService interface {
	ListAlerts(ctx context.Context, userID string, unreadOnly bool) ([]Alert, error)
	MarkRead(ctx context.Context, userID string, alertID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	CreateAlert(ctx context.Context, cmd CreateAlertCommand) (Alert, error)
	NotifyExpiringProducts(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent describes an order lifecycle change.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"paymentMethod"`
	TotalAmount   string    `json:"totalAmount"`
	TotalCredits  int       `json:"totalCredits"`
	ProductIDs    []string  `json:"productIds"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PaymentAuthorizer charges external payment rails. Implementations are stubs for now.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req PaymentAuthorization) (PaymentAuthorizationResult, error)
}

// PaymentAuthorization is a request to charge an external rail.
type PaymentAuthorization struct {
	Method   PaymentMethod
	OrderID  string
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Details  map[string]string
}

// PaymentAuthorizationResult is the gateway outcome.
type PaymentAuthorizationResult struct {
	Reference string
	Approved  bool
}

// Locker serialises critical sections per key, e.g. credit debits per user.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PriceQuote is the configured price and credit cost for one unit.
type PriceQuote struct {
	Price      decimal.Decimal
	CreditCost int
}

// Commands --------------------------------------------------------------------

type AddCartItemCommand struct {
	UserID    string
	ProductID string
	// Quantity defaults to 1 when nil.
	Quantity      *int
	Configuration json.RawMessage
}

type UpdateCartItemCommand struct {
	UserID        string
	ItemID        string
	Quantity      *int
	Configuration json.RawMessage
}

type OrderLineInput struct {
	ProductID     string
	Quantity      int
	Configuration json.RawMessage
	// ClientUnitPrice is advisory only; the authoritative price is recomputed.
	ClientUnitPrice *decimal.Decimal
}

type CreateOrderCommand struct {
	UserID         string
	Items          []OrderLineInput
	PaymentMethod  PaymentMethod
	PaymentDetails map[string]string
	FromCart       bool
}

type PurchaseCreditsCommand struct {
	UserID      string
	Amount      int
	Description string
}

type CreditPurchaseResult struct {
	Transaction CreditTransaction
	NewBalance  int
}

type SpendCreditsCommand struct {
	UserID      string
	Amount      int
	OrderID     string
	ProductID   string
	Description string
}

type RefundCreditsCommand struct {
	UserID      string
	Amount      int
	OrderID     string
	Description string
}

type CreateRFICommand struct {
	UserID            string
	Title             string
	Description       string
	TargetArea        string
	DateRange         *DateRange
	AdditionalDetails string
}

type UpdateRFICommand struct {
	UserID            string
	RFIID             string
	Title             *string
	Description       *string
	TargetArea        *string
	DateRange         *DateRange
	AdditionalDetails *string
	Status            *RFIStatus
}

type CreateAlertCommand struct {
	UserID        string
	Title         string
	Message       string
	Severity      AlertSeverity
	Source        string
	SourceKey     string
	UserProductID string
}
