package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidewatch/storefront/internal/services"
)

var (
	// ErrUnsupportedProvider is returned when no gateway is registered for the payment method.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidAmount is returned for zero or negative charges.
	ErrInvalidAmount = errors.New("payments: invalid amount")
)

// Charge is the gateway-level view of an authorization request. Amount is in minor units.
type Charge struct {
	OrderID  string
	UserID   string
	Amount   int64
	Currency string
	Details  map[string]string
}

// Authorization is the gateway outcome.
type Authorization struct {
	Reference string
	Approved  bool
	Reason    string
}

// Gateway defines the contract external payment rails implement.
type Gateway interface {
	Authorize(ctx context.Context, charge Charge) (Authorization, error)
}

// Logger records gateway activity.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Manager routes authorizations to the gateway registered for the order's payment method.
type Manager struct {
	gateways map[string]Gateway
	logger   Logger
}

var _ services.PaymentAuthorizer = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a logger to the manager.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a Manager over the supplied gateways keyed by payment method.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]Gateway, len(gateways))
	for key, gateway := range gateways {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" || gateway == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", key)
		}
		registered[name] = gateway
	}
	m := &Manager{
		gateways: registered,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Authorize charges the rail named by req.Method.
func (m *Manager) Authorize(ctx context.Context, req services.PaymentAuthorization) (services.PaymentAuthorizationResult, error) {
	method := strings.ToLower(strings.TrimSpace(string(req.Method)))
	gateway, ok := m.gateways[method]
	if !ok {
		return services.PaymentAuthorizationResult{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, req.Method)
	}
	if !req.Amount.IsPositive() {
		return services.PaymentAuthorizationResult{}, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}

	charge := Charge{
		OrderID:  req.OrderID,
		UserID:   req.UserID,
		Amount:   req.Amount.Shift(2).Round(0).IntPart(),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Details:  req.Details,
	}
	auth, err := gateway.Authorize(ctx, charge)
	if err != nil {
		m.logger(ctx, "payments.authorize.failed", map[string]any{
			"provider": method,
			"orderId":  req.OrderID,
			"error":    err.Error(),
		})
		return services.PaymentAuthorizationResult{}, fmt.Errorf("payments: %s authorize: %w", method, err)
	}
	m.logger(ctx, "payments.authorized", map[string]any{
		"provider":  method,
		"orderId":   req.OrderID,
		"approved":  auth.Approved,
		"reference": auth.Reference,
	})
	return services.PaymentAuthorizationResult{Reference: auth.Reference, Approved: auth.Approved}, nil
}
