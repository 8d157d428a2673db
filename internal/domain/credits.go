package domain

import "time"

// CreditTransaction is an append-only ledger entry. Positive amounts grant credits, negative
// amounts spend them.
type CreditTransaction struct {
	ID          string
	UserID      string
	Amount      int
	Description string
	Timestamp   time.Time
	OrderID     string
	ProductID   string
}

// CreditAccount holds the authoritative running balance for a user. It is mutated in the same
// step that appends a transaction.
type CreditAccount struct {
	UserID    string
	Balance   int
	UpdatedAt time.Time
}

// AlertSeverity grades a notification.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a user notification. It is distinct from MARITIME_ALERT products.
type Alert struct {
	ID            string
	UserID        string
	Title         string
	Message       string
	Severity      AlertSeverity
	Source        string
	SourceKey     string
	UserProductID string
	Read          bool
	CreatedAt     time.Time
	ReadAt        *time.Time
}
