package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrGatewayNotConfigured is returned when the gateway has no credentials.
var ErrGatewayNotConfigured = errors.New("payments: gateway credentials missing")

// StubGateway approves charges without contacting a payment processor. It still insists on
// credentials so a misconfigured deployment fails loudly instead of handing out free orders.
type StubGateway struct {
	prefix     string
	credential string
	clock      func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewStripeGateway returns the stub gateway used for card payments.
func NewStripeGateway(apiKey string) *StubGateway {
	return newStubGateway("pi", apiKey)
}

// NewPayPalGateway returns the stub gateway used for PayPal. Both client ID and secret are required.
func NewPayPalGateway(clientID, secret string) *StubGateway {
	credential := ""
	if strings.TrimSpace(clientID) != "" && strings.TrimSpace(secret) != "" {
		credential = clientID
	}
	return newStubGateway("PAYID", credential)
}

func newStubGateway(prefix, credential string) *StubGateway {
	return &StubGateway{
		prefix:     prefix,
		credential: strings.TrimSpace(credential),
		clock:      time.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// Authorize approves any positive charge. A "decline" detail set to "true" simulates a refusal.
func (g *StubGateway) Authorize(ctx context.Context, charge Charge) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, err
	}
	if g.credential == "" {
		return Authorization{}, ErrGatewayNotConfigured
	}
	if charge.Amount <= 0 {
		return Authorization{}, ErrInvalidAmount
	}
	if strings.EqualFold(charge.Details["decline"], "true") {
		return Authorization{Approved: false, Reason: "card_declined"}, nil
	}

	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.clock()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Reference: g.prefix + "_" + strings.ToLower(id.String()), Approved: true}, nil
}
