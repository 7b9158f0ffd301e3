package domain

import (
	"time"

	"github.com/google/uuid"
)

type StallStatus string

const (
	StallAvailable StallStatus = "available"
	StallReserved  StallStatus = "reserved"
	StallBlocked   StallStatus = "blocked"
	StallBooked    StallStatus = "booked"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
)

type Event struct {
	ID          int64
	OrganizerID int64
	Title       string
	Status      EventStatus
	Starts      time.Time
	Ends        time.Time
}

// Stall is a bookable physical unit within an event. It is identified by
// (EventID, StallID); DisplayID is the label printed on the floor plan.
type Stall struct {
	EventID   int64
	StallID   int64
	DisplayID string
	Type      string
	Category  string
	Price     int64
	Size      string
	Status    StallStatus
}

type FeeBreakdown struct {
	StallPrice  int64 `json:"stall_price"`
	PlatformFee int64 `json:"platform_fee"`
	EntryFee    int64 `json:"entry_fee"`
	GST         int64 `json:"gst"`
	TotalAmount int64 `json:"total_amount"`
}

// PaymentDetails holds the gateway identifiers captured for an application.
// OrderRef is set when the gateway order is created; the rest only after the
// gateway reports an outcome.
type PaymentDetails struct {
	OrderRef       string     `json:"order_ref,omitempty"`
	PaymentRef     string     `json:"payment_ref,omitempty"`
	AmountCaptured int64      `json:"amount_captured,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// StatusChange is one append-only entry of an application's status history.
type StatusChange struct {
	Status    ApplicationStatus `json:"status"`
	Actor     string            `json:"actor"`
	Reason    string            `json:"reason,omitempty"`
	ChangedAt time.Time         `json:"changed_at"`
}

type Application struct {
	ID              uuid.UUID
	EventID         int64
	VendorID        int64
	StallID         int64
	Status          ApplicationStatus
	Products        []string
	Fees            FeeBreakdown
	PaymentDeadline *time.Time
	Payment         PaymentDetails
	CreatedAt       time.Time
}

type ApplicationWithHistory struct {
	Application Application
	History     []StatusChange
}

type StallCounts struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Blocked   int64 `json:"blocked"`
	Booked    int64 `json:"booked"`
	Total     int64 `json:"total"`
}
