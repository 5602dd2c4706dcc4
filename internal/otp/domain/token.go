package domain

import (
	"fmt"
	"time"
)

// Token represents an issued OTP (stored in the otp_tokens table). At most one
// active token exists per destination; issuing a new one supersedes the rest.
type Token struct {
	UUID        string
	Destination string
	CodeHash    string
	Reason      string
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token's expiry window has passed at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CooldownError is returned when a new issuance for a destination arrives
// before the cooldown window from the previous issuance has elapsed.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp: cooldown active, retry in %s", e.RetryAfter.Round(time.Second))
}
