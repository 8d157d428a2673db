package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

const (
	alertIDPrefix         = "alr_"
	expiringAlertSource   = "entitlements"
	defaultExpiringWindow = 72 * time.Hour
	maxAlertTitleLength   = 200
)

var (
	// ErrAlertInvalidInput indicates malformed alert commands.
	ErrAlertInvalidInput = errors.New("alert: invalid input")
	// ErrAlertDuplicate indicates an alert with the same source key already exists for the user.
	ErrAlertDuplicate = errors.New("alert: duplicate source key")
	// ErrAlertUnavailable indicates the store could not be reached.
	ErrAlertUnavailable = errors.New("alert: unavailable")
)

// AlertServiceDeps bundles constructor inputs for the alert service.
type AlertServiceDeps struct {
	Alerts repositories.AlertRepository
	// UserProducts feeds expiry notifications. Optional when NotifyExpiringProducts is unused.
	UserProducts repositories.UserProductRepository
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       Logger
}

type alertService struct {
	alerts       repositories.AlertRepository
	userProducts repositories.UserProductRepository
	now          func() time.Time
	newID        func() string
	logger       Logger
}

// NewAlertService constructs the alert service.
func NewAlertService(deps AlertServiceDeps) (AlertService, error) {
	if deps.Alerts == nil {
		return nil, errors.New("alert service: alert repository is required")
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
	return &alertService{
		alerts:       deps.Alerts,
		userProducts: deps.UserProducts,
		now:          func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

func (s *alertService) ListAlerts(ctx context.Context, userID string, unreadOnly bool) ([]Alert, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrAlertInvalidInput)
	}
	alerts, err := s.alerts.ListByUser(ctx, userID, unreadOnly)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// MarkRead marks one alert as read. Unknown alerts and alerts owned by other users are ignored.
func (s *alertService) MarkRead(ctx context.Context, userID string, alertID string) error {
	userID = strings.TrimSpace(userID)
	alertID = strings.TrimSpace(alertID)
	if userID == "" || alertID == "" {
		return fmt.Errorf("%w: user id and alert id are required", ErrAlertInvalidInput)
	}
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.mapRepositoryError(err)
	}
	if alert.UserID != userID || alert.Read {
		return nil
	}
	if err := s.alerts.MarkRead(ctx, alertID, s.now()); err != nil && !isRepoNotFound(err) {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *alertService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrAlertInvalidInput)
	}
	count, err := s.alerts.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return count, nil
}

func (s *alertService) CreateAlert(ctx context.Context, cmd CreateAlertCommand) (Alert, error) {
	userID := strings.TrimSpace(cmd.UserID)
	title := strings.TrimSpace(cmd.Title)
	if userID == "" || title == "" {
		return Alert{}, fmt.Errorf("%w: user id and title are required", ErrAlertInvalidInput)
	}
	if len([]rune(title)) > maxAlertTitleLength {
		return Alert{}, fmt.Errorf("%w: title must be at most %d characters", ErrAlertInvalidInput, maxAlertTitleLength)
	}
	severity := cmd.Severity
	if severity == "" {
		severity = domain.AlertSeverityInfo
	}
	switch severity {
	case domain.AlertSeverityInfo, domain.AlertSeverityWarning, domain.AlertSeverityCritical:
	default:
		return Alert{}, fmt.Errorf("%w: unknown severity %q", ErrAlertInvalidInput, severity)
	}

	sourceKey := strings.TrimSpace(cmd.SourceKey)
	if sourceKey != "" {
		exists, err := s.alerts.ExistsBySourceKey(ctx, userID, sourceKey)
		if err != nil {
			return Alert{}, s.mapRepositoryError(err)
		}
		if exists {
			return Alert{}, fmt.Errorf("%w: %s", ErrAlertDuplicate, sourceKey)
		}
	}

	alert := Alert{
		ID:            newID(s.newID, alertIDPrefix),
		UserID:        userID,
		Title:         title,
		Message:       strings.TrimSpace(cmd.Message),
		Severity:      severity,
		Source:        strings.TrimSpace(cmd.Source),
		SourceKey:     sourceKey,
		UserProductID: strings.TrimSpace(cmd.UserProductID),
		CreatedAt:     s.now(),
	}
	if err := s.alerts.Insert(ctx, alert); err != nil {
		return Alert{}, s.mapRepositoryError(err)
	}
	return alert, nil
}

// NotifyExpiringProducts raises one warning per active entitlement expiring within window of now.
// Entitlements already notified for the same expiry are skipped.
func (s *alertService) NotifyExpiringProducts(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	if s.userProducts == nil {
		return 0, errors.New("alert service: user product repository is not configured")
	}
	if window <= 0 {
		window = defaultExpiringWindow
	}
	now = now.UTC()
	expiring, err := s.userProducts.ListExpiringBetween(ctx, now, now.Add(window))
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	created := 0
	for _, product := range expiring {
		if product.EffectiveStatus(now) != domain.UserProductStatusActive || product.ExpiryDate == nil {
			continue
		}
		expiry := product.ExpiryDate.UTC()
		_, err := s.CreateAlert(ctx, CreateAlertCommand{
			UserID:        product.UserID,
			Title:         expiringTitle(product.Name),
			Message:       fmt.Sprintf("Your %s subscription expires on %s.", product.Name, expiry.Format("2006-01-02 15:04 MST")),
			Severity:      domain.AlertSeverityWarning,
			Source:        expiringAlertSource,
			SourceKey:     fmt.Sprintf("expiry:%s:%s", product.ID, expiry.Format(time.RFC3339)),
			UserProductID: product.ID,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrAlertDuplicate):
		case errors.Is(err, ErrAlertInvalidInput):
			s.logger(ctx, "alerts.expiring_skipped", map[string]any{
				"userProductId": product.ID,
				"userId":        product.UserID,
				"error":         err.Error(),
			})
		default:
			return created, err
		}
	}
	if created > 0 {
		s.logger(ctx, "alerts.expiring_notified", map[string]any{"count": created})
	}
	return created, nil
}

func expiringTitle(name string) string {
	const suffix = " expires soon"
	limit := maxAlertTitleLength - utf8.RuneCountInString(suffix)
	if runes := []rune(strings.TrimSpace(name)); len(runes) > limit {
		name = string(runes[:limit-1]) + "…"
	}
	return name + suffix
}

func (s *alertService) mapRepositoryError(err error) error {
	if isRepoUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrAlertUnavailable, err)
	}
	return fmt.Errorf("alert: %w", err)
}
