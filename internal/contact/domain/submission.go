package domain

import "time"

// Submission is one contact-form entry (stored in the contact_submissions table).
type Submission struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	Message   string
	CreatedAt time.Time
}
