package model

import "time"

// Appointment statuses. PENDING and CONFIRMED appointments are "active" and
// participate in the staff non-overlap invariant; CANCELLED and COMPLETED do
// not block new bookings.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

func IsActiveStatus(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

type Appointment struct {
	ID         string
	BusinessID string
	StaffID    string
	ServiceID  string

	CustomerName  string
	CustomerPhone string
	Address       string

	StartTime time.Time
	EndTime   time.Time

	// DurationMins and Price are snapshotted from the service at booking time
	// so later catalog edits never rewrite existing appointments.
	DurationMins int
	Price        string

	Status       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}
