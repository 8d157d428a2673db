package domain

import "time"

// RFIStatus is the request-for-intelligence lifecycle state.
type RFIStatus string

const (
	RFIStatusSubmitted            RFIStatus = "submitted"
	RFIStatusPendingReview        RFIStatus = "pending_review"
	RFIStatusInProgress           RFIStatus = "in_progress"
	RFIStatusAwaitingCustomerInfo RFIStatus = "awaiting_customer_info"
	RFIStatusCompleted            RFIStatus = "completed"
	RFIStatusCancelled            RFIStatus = "cancelled"
	RFIStatusOnHold               RFIStatus = "on_hold"
	RFIStatusEscalated            RFIStatus = "escalated"
)

// Valid reports whether the status is a known RFI state.
func (s RFIStatus) Valid() bool {
	switch s {
	case RFIStatusSubmitted, RFIStatusPendingReview, RFIStatusInProgress, RFIStatusAwaitingCustomerInfo,
		RFIStatusCompleted, RFIStatusCancelled, RFIStatusOnHold, RFIStatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no further changes are accepted.
func (s RFIStatus) Terminal() bool {
	return s == RFIStatusCompleted || s == RFIStatusCancelled
}

// DateRange is an optional inclusive period attached to an RFI.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// RFI is a request for intelligence submitted by a user.
type RFI struct {
	ID                string
	UserID            string
	Title             string
	Description       string
	TargetArea        string
	DateRange         *DateRange
	AdditionalDetails string
	Status            RFIStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
