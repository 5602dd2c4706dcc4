package domain

import "time"

// Record is one delivery-log entry (stored in the delivery_log table): a send,
// OTP issuance, or verification outcome tied to a destination.
type Record struct {
	ID          string
	Destination string
	Action      string
	Outcome     string
	Detail      string
	CreatedAt   time.Time
}
