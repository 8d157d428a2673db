package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the payment rail used for an order.
type PaymentMethod string

const (
	PaymentMethodCredits PaymentMethod = "credits"
	PaymentMethodStripe  PaymentMethod = "stripe"
	PaymentMethodPayPal  PaymentMethod = "paypal"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCredits, PaymentMethodStripe, PaymentMethodPayPal:
		return true
	}
	return false
}

// OrderStatus tracks order fulfilment.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// OrderItem is an authoritative, server-priced order line.
type OrderItem struct {
	ProductID      string
	Name           string
	Type           ProductType
	Quantity       int
	UnitPrice      decimal.Decimal
	UnitCreditCost int
	LineTotal      decimal.Decimal
	LineCredits    int
	Configuration  *ProductConfiguration
}

// Order is immutable once created.
type Order struct {
	ID               string
	UserID           string
	Items            []OrderItem
	TotalAmount      decimal.Decimal
	TotalCredits     int
	Currency         string
	PaymentMethod    PaymentMethod
	PaymentDetails   map[string]string
	PaymentReference string
	Status           OrderStatus
	PurchaseDate     time.Time
}

// UserProductStatus tracks the lifecycle of an entitlement.
type UserProductStatus string

const (
	UserProductStatusActive            UserProductStatus = "active"
	UserProductStatusPendingActivation UserProductStatus = "pending_activation"
	UserProductStatusExpired           UserProductStatus = "expired"
	UserProductStatusCancelled         UserProductStatus = "cancelled"
	UserProductStatusSuspended         UserProductStatus = "suspended"
)

// UserProduct is the entitlement materialised for a purchased order line.
type UserProduct struct {
	ID             string
	OrderID        string
	ProductID      string
	Name           string
	Type           ProductType
	UserID         string
	PurchaseDate   time.Time
	ActivationDate *time.Time
	ExpiryDate     *time.Time
	Status         UserProductStatus
	Configuration  *ProductConfiguration
}

// EffectiveStatus derives the status at the given instant. Active and pending entitlements past
// their expiry report expired; explicit states are returned unchanged.
func (p UserProduct) EffectiveStatus(now time.Time) UserProductStatus {
	switch p.Status {
	case UserProductStatusActive, UserProductStatusPendingActivation:
		if p.ExpiryDate != nil && now.After(*p.ExpiryDate) {
			return UserProductStatusExpired
		}
	}
	return p.Status
}

// EntitlementExpiry computes the expiry for a configuration purchased at purchaseDate.
func EntitlementExpiry(purchaseDate time.Time, config *ProductConfiguration) time.Time {
	days := DefaultDurationDays
	if config != nil {
		if configured, ok := config.DurationDays(); ok {
			days = configured
		}
	}
	return purchaseDate.AddDate(0, 0, days)
}
