package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is the body of a transaction. Firestore may run it more than once.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
	label    string
}

// WithTxAttempts overrides how many times a contended transaction is attempted.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxLabel names the operation in wrapped errors.
func WithTxLabel(label string) TxOption {
	return func(s *txSettings) {
		if label != "" {
			s.label = label
		}
	}
}

// RunTransaction runs fn in a transaction on the shared client. The call is bounded by a 15s
// deadline unless ctx already carries a tighter one. Errors returned by fn are passed through so
// callers can match their own sentinels.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	settings := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout, label: "transaction"}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}
	return WrapError(settings.label, client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}
