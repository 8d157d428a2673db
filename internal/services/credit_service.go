package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	creditTxnIDPrefix        = "ctx_"
	maxCreditPurchase        = 1_000_000
	signupGrantDescription   = "Welcome credits"
	defaultPurchaseNote      = "Credit purchase"
	defaultRefundDescription = "Credit refund"
)

var (
	// ErrCreditInvalidInput indicates malformed ledger commands.
	ErrCreditInvalidInput = errors.New("credit service: invalid input")
	// ErrInsufficientCredits is returned when a debit exceeds the current balance.
	ErrInsufficientCredits = errors.New("credit service: insufficient credits")
	// ErrCreditUnavailable indicates the ledger store could not be reached.
	ErrCreditUnavailable = errors.New("credit service: unavailable")
)

// CreditServiceDeps bundles constructor inputs for the credit service.
type CreditServiceDeps struct {
	Credits repositories.CreditRepository
	// Locker serialises debits per user. Optional: the repository refuses overdrafts on its own.
	Locker Locker
	// SignupGrant is credited once to every account on first access. Zero disables it.
	SignupGrant int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
	Meter       metric.Meter
}

type creditService struct {
	credits     repositories.CreditRepository
	locker      Locker
	signupGrant int
	now         func() time.Time
	newID       func() string
	logger      Logger

	granted sync.Map

	debitCounter  metric.Int64Counter
	creditCounter metric.Int64Counter
}

// NewCreditService constructs the credit service.
func NewCreditService(deps CreditServiceDeps) (CreditService, error) {
	if deps.Credits == nil {
		return nil, errors.New("credit service: credit repository is required")
	}
	if deps.SignupGrant < 0 {
		return nil, errors.New("credit service: signup grant must not be negative")
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
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("storefront/services")
	}
	debits, err := meter.Int64Counter("storefront.credits.debited",
		metric.WithDescription("Credits debited from user balances"))
	if err != nil {
		return nil, fmt.Errorf("credit service: debit counter: %w", err)
	}
	granted, err := meter.Int64Counter("storefront.credits.credited",
		metric.WithDescription("Credits added to user balances"))
	if err != nil {
		return nil, fmt.Errorf("credit service: credit counter: %w", err)
	}
	return &creditService{
		credits:       deps.Credits,
		locker:        deps.Locker,
		signupGrant:   deps.SignupGrant,
		now:           func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
		debitCounter:  debits,
		creditCounter: granted,
	}, nil
}

func (s *creditService) GetBalance(ctx context.Context, userID string) (CreditAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CreditAccount{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	if err := s.ensureSignupGrant(ctx, userID); err != nil {
		return CreditAccount{}, err
	}
	account, err := s.credits.Account(ctx, userID)
	if err != nil {
		return CreditAccount{}, s.mapRepositoryError(err)
	}
	account.UserID = userID
	return account, nil
}

func (s *creditService) ListTransactions(ctx context.Context, userID string) ([]CreditTransaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	if err := s.ensureSignupGrant(ctx, userID); err != nil {
		return nil, err
	}
	txns, err := s.credits.ListTransactions(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if txns == nil {
		txns = []CreditTransaction{}
	}
	return txns, nil
}

func (s *creditService) PurchaseCredits(ctx context.Context, cmd PurchaseCreditsCommand) (CreditPurchaseResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreditPurchaseResult{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	if cmd.Amount <= 0 || cmd.Amount > maxCreditPurchase {
		return CreditPurchaseResult{}, fmt.Errorf("%w: amount must be between 1 and %d", ErrCreditInvalidInput, maxCreditPurchase)
	}
	if err := s.ensureSignupGrant(ctx, userID); err != nil {
		return CreditPurchaseResult{}, err
	}
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		description = defaultPurchaseNote
	}
	txn, account, err := s.apply(ctx, CreditTransaction{
		UserID:      userID,
		Amount:      cmd.Amount,
		Description: description,
	})
	if err != nil {
		return CreditPurchaseResult{}, err
	}
	s.logger(ctx, "credits.purchased", map[string]any{
		"userId":  userID,
		"amount":  cmd.Amount,
		"balance": account.Balance,
	})
	return CreditPurchaseResult{Transaction: txn, NewBalance: account.Balance}, nil
}

func (s *creditService) Spend(ctx context.Context, cmd SpendCreditsCommand) (CreditTransaction, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreditTransaction{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	if cmd.Amount <= 0 {
		return CreditTransaction{}, fmt.Errorf("%w: amount must be positive", ErrCreditInvalidInput)
	}
	if err := s.ensureSignupGrant(ctx, userID); err != nil {
		return CreditTransaction{}, err
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "credits:"+userID)
		if err != nil {
			return CreditTransaction{}, fmt.Errorf("%w: acquire lock: %v", ErrCreditUnavailable, err)
		}
		defer unlock()
	}

	txn, account, err := s.apply(ctx, CreditTransaction{
		UserID:      userID,
		Amount:      -cmd.Amount,
		Description: strings.TrimSpace(cmd.Description),
		OrderID:     strings.TrimSpace(cmd.OrderID),
		ProductID:   strings.TrimSpace(cmd.ProductID),
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	s.logger(ctx, "credits.spent", map[string]any{
		"userId":  userID,
		"amount":  cmd.Amount,
		"orderId": txn.OrderID,
		"balance": account.Balance,
	})
	return txn, nil
}

func (s *creditService) Refund(ctx context.Context, cmd RefundCreditsCommand) (CreditTransaction, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreditTransaction{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	if cmd.Amount <= 0 {
		return CreditTransaction{}, fmt.Errorf("%w: amount must be positive", ErrCreditInvalidInput)
	}
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		description = defaultRefundDescription
	}
	txn, account, err := s.apply(ctx, CreditTransaction{
		UserID:      userID,
		Amount:      cmd.Amount,
		Description: description,
		OrderID:     strings.TrimSpace(cmd.OrderID),
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	s.logger(ctx, "credits.refunded", map[string]any{
		"userId":  userID,
		"amount":  cmd.Amount,
		"orderId": txn.OrderID,
		"balance": account.Balance,
	})
	return txn, nil
}

func (s *creditService) apply(ctx context.Context, txn CreditTransaction) (CreditTransaction, CreditAccount, error) {
	if txn.ID == "" {
		txn.ID = newID(s.newID, creditTxnIDPrefix)
	}
	txn.Timestamp = s.now()
	account, err := s.credits.Apply(ctx, txn)
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientBalance) {
			return CreditTransaction{}, account, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientCredits, account.Balance, -txn.Amount)
		}
		return CreditTransaction{}, account, s.mapRepositoryError(err)
	}
	attrs := metric.WithAttributes(attribute.String("description", txn.Description))
	if txn.Amount < 0 {
		s.debitCounter.Add(ctx, int64(-txn.Amount), attrs)
	} else {
		s.creditCounter.Add(ctx, int64(txn.Amount), attrs)
	}
	return txn, account, nil
}

// ensureSignupGrant credits the configured welcome grant once per user. The transaction ID is
// derived from the user so concurrent or repeated attempts collide on a conflict instead of
// double-crediting.
func (s *creditService) ensureSignupGrant(ctx context.Context, userID string) error {
	if s.signupGrant <= 0 {
		return nil
	}
	if _, done := s.granted.Load(userID); done {
		return nil
	}
	_, _, err := s.apply(ctx, CreditTransaction{
		ID:          creditTxnIDPrefix + "signup_" + userID,
		UserID:      userID,
		Amount:      s.signupGrant,
		Description: signupGrantDescription,
	})
	if err != nil && !isRepoConflict(err) {
		return err
	}
	s.granted.Store(userID, struct{}{})
	return nil
}

func (s *creditService) mapRepositoryError(err error) error {
	switch {
	case isRepoConflict(err):
		return err
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCreditUnavailable, err)
	default:
		return fmt.Errorf("credit service: %w", err)
	}
}
